package simulation

// Migration is one registered migration of the mock workload.
type Migration struct {
	RegisteredNumber uint
	Name             string
	Description      string
}

// DefaultCatalogue lists the migrations run by default, in registration order.
var DefaultCatalogue = []Migration{
	{1, "Customers", "Adding google plus field to customer collection"},
	{2, "Line Items", "Changing modifier types"},
	{3, "Checks", "Something to do with checks"},
	{4, "Register Settings", "Extra card processor details"},
	{5, "Line Items", "Kitchen note improvements"},
	{6, "Stock Items", "Preliminary support for matrix"},
	{7, "Taxes", "Never forget"},
	{8, "Core Data 74", "Some things"},
	{9, "Level Up", "Remove level up"},
	{10, "Tenders", "Hmmm, chicken tenders"},
	{11, "Core Data 75", "Remove another thing from core data"},
	{12, "Customers", "Remove google plus field from customer collection"},
	{13, "Modifiers", "Prep for matrix"},
	{14, "Matrix Stock Items", "Add matrix stock items"},
	{15, "Matrix Variants", "Add matrix variants"},
	{16, "Core Data 76", "Remove stock items from core data"},
	{17, "Transactions", "Something to do with transactions, or something"},
}
