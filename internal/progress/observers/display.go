package observers

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/lipgloss"
	"golang.org/x/time/rate"

	"github.com/JakeFAU/migration-progress/internal/progress"
)

// DisplayConfig controls the terminal display.
type DisplayConfig struct {
	// RefreshInterval bounds how often record ticks trigger a redraw. Zero
	// redraws on every event.
	RefreshInterval time.Duration
}

// DisplayObserver renders a three line progress panel to a writer. Run and
// item milestones always redraw; record ticks are throttled.
type DisplayObserver struct {
	mu      sync.Mutex
	out     io.Writer
	limiter *rate.Limiter
	styles  displayStyles
}

type displayStyles struct {
	version lipgloss.Style
	item    lipgloss.Style
	count   lipgloss.Style
	muted   lipgloss.Style
}

// NewDisplayObserver creates a DisplayObserver writing to out.
func NewDisplayObserver(out io.Writer, cfg DisplayConfig) *DisplayObserver {
	limit := rate.Inf
	if cfg.RefreshInterval > 0 {
		limit = rate.Every(cfg.RefreshInterval)
	}
	renderer := lipgloss.NewRenderer(out)
	return &DisplayObserver{
		out:     out,
		limiter: rate.NewLimiter(limit, 1),
		styles: displayStyles{
			version: renderer.NewStyle().Bold(true).Foreground(lipgloss.Color("#58a6ff")),
			item:    renderer.NewStyle().Foreground(lipgloss.Color("#c9d1d9")),
			count:   renderer.NewStyle().Foreground(lipgloss.Color("#3fb950")),
			muted:   renderer.NewStyle().Foreground(lipgloss.Color("#8b949e")),
		},
	}
}

// Observe redraws the panel for snap.
func (d *DisplayObserver) Observe(_ context.Context, evt progress.Event, snap progress.Snapshot) error {
	if evt.Kind() == progress.KindRecordProcessed && !d.limiter.Allow() {
		return nil
	}
	lines := Render(snap)
	d.mu.Lock()
	defer d.mu.Unlock()
	styled := []string{
		d.styles.version.Render(lines[0]),
		d.styles.item.Render(lines[1]),
		d.styles.count.Render(lines[2]),
	}
	if evt.Kind() == progress.KindRunEnded {
		styled = append(styled, d.styles.muted.Render(fmt.Sprintf("Completed %d of %d migrations",
			snap.CompletedItems, snap.TotalItems)))
	}
	if _, err := io.WriteString(d.out, strings.Join(styled, "\n")+"\n"); err != nil {
		return fmt.Errorf("write display: %w", err)
	}
	return nil
}

// Render returns the version, item, and record lines for snap. Fields that
// are not set yet render as placeholders instead of being skipped.
func Render(snap progress.Snapshot) [3]string {
	previous := orPlaceholder(snap.PreviousVersion)
	current := orPlaceholder(snap.CurrentVersion)

	name := "-"
	switch {
	case snap.CurrentItem != nil:
		name = snap.CurrentItem.Name
	case snap.LastItem != nil:
		name = snap.LastItem.Name
	}

	return [3]string{
		fmt.Sprintf("Migrating from version %s to %s", previous, current),
		fmt.Sprintf("Running migration %s (%d of %d)", name, snap.CurrentItemOrdinal(), snap.TotalItems),
		fmt.Sprintf("Migrating records %d to %d", snap.CompletedItemRecords, snap.TotalItemRecords),
	}
}

func orPlaceholder(s string) string {
	if s == "" {
		return "?"
	}
	return s
}
