package template

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/tis-trainee/notifications/internal/notification/domain"
	"github.com/tis-trainee/notifications/pkg/config"
)

const testTemplate = `{{define "subject"}}
  Your   programme   {{.ProgrammeName}}
{{end}}
{{define "content"}}<p>Hello {{.GivenName}}, your programme starts {{.StartDate.Format "2 January 2006"}}.</p>{{end}}`

func writeTemplate(t *testing.T, dir, version, name string) {
	t.Helper()
	versionDir := filepath.Join(dir, version)
	if err := os.MkdirAll(versionDir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(versionDir, name+".html"), []byte(testTemplate), 0o644); err != nil {
		t.Fatal(err)
	}
}

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	dir := t.TempDir()
	writeTemplate(t, dir, "v1", string(domain.NotificationTypeProgrammeUpdatedWeek8))
	versions := map[string]config.TemplateVersionConfig{
		// Lower-cased on purpose: viper lower-cases map keys, and the
		// engine must still resolve the upper-case wire name.
		"programme_updated_week_8": {Email: "v1", InApp: "v1"},
	}
	loc, err := time.LoadLocation("Europe/London")
	if err != nil {
		t.Skipf("tzdata not available: %v", err)
	}
	return New(dir, versions, loc)
}

func TestRender_EmailSubjectAndContent(t *testing.T) {
	e := newTestEngine(t)
	vars := map[string]interface{}{
		"ProgrammeName": "Core Medical Training",
		"GivenName":     "Jane",
		"StartDate":     time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC),
	}

	subject, content, version, err := e.Render(context.Background(), domain.NotificationTypeProgrammeUpdatedWeek8, domain.ChannelEmail, vars)
	if err != nil {
		t.Fatalf("Render() error = %v", err)
	}
	if version != "v1" {
		t.Errorf("version = %q, want v1", version)
	}
	if subject != "Your programme Core Medical Training" {
		t.Errorf("subject = %q, want collapsed single-line text", subject)
	}
	if !strings.Contains(content, "Hello Jane") {
		t.Errorf("content = %q, want the rendered greeting", content)
	}
}

func TestRender_InAppSkipsSubject(t *testing.T) {
	e := newTestEngine(t)
	subject, content, _, err := e.Render(context.Background(), domain.NotificationTypeProgrammeUpdatedWeek8, domain.ChannelInApp, map[string]interface{}{
		"ProgrammeName": "GP Training",
		"GivenName":     "Jan",
		"StartDate":     time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC),
	})
	if err != nil {
		t.Fatalf("Render() error = %v", err)
	}
	if subject != "" {
		t.Errorf("subject = %q, want empty for an in-app render", subject)
	}
	if content == "" {
		t.Error("content should still render for an in-app notification")
	}
}

// TestRender_ZonesTimestamps checks that a timestamp variable is converted
// to the display timezone before template execution: 23:30 UTC on 30 June
// renders as 00:30 BST on 1 July, so the displayed day moves forward.
func TestRender_ZonesTimestamps(t *testing.T) {
	e := newTestEngine(t)
	vars := map[string]interface{}{
		"ProgrammeName": "X",
		"GivenName":     "X",
		"StartDate":     time.Date(2030, 6, 30, 23, 30, 0, 0, time.UTC),
	}
	_, content, _, err := e.Render(context.Background(), domain.NotificationTypeProgrammeUpdatedWeek8, domain.ChannelEmail, vars)
	if err != nil {
		t.Fatalf("Render() error = %v", err)
	}
	// 23:30 UTC on 30 June is 00:30 BST on 1 July.
	if !strings.Contains(content, "1 July 2030") {
		t.Errorf("content = %q, want the date rendered in Europe/London", content)
	}
}

// TestRender_RestoresStringTimestamps: variables replayed from a schedule
// payload arrive as RFC 3339 strings, and must still render as zoned times.
func TestRender_RestoresStringTimestamps(t *testing.T) {
	e := newTestEngine(t)
	vars := map[string]interface{}{
		"ProgrammeName": "X",
		"GivenName":     "X",
		"StartDate":     "2030-06-30T23:30:00Z",
	}
	_, content, _, err := e.Render(context.Background(), domain.NotificationTypeProgrammeUpdatedWeek8, domain.ChannelEmail, vars)
	if err != nil {
		t.Fatalf("Render() error = %v", err)
	}
	if !strings.Contains(content, "1 July 2030") {
		t.Errorf("content = %q, want the string timestamp restored and zoned", content)
	}
}

func TestRender_UnconfiguredVersion(t *testing.T) {
	e := newTestEngine(t)
	_, _, _, err := e.Render(context.Background(), domain.NotificationTypeFormUpdated, domain.ChannelInApp, nil)
	if !errors.Is(err, domain.ErrTemplateNotFound) {
		t.Fatalf("error = %v, want ErrTemplateNotFound for an unconfigured type", err)
	}
}
