// Package template renders notification content from versioned
// html/template files. Each template file defines two named blocks,
// "subject" and "content", which are extracted independently so the same
// template source serves both the email subject line and its HTML
// fragment (an in-app notification only ever renders "content").
package template

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/tis-trainee/notifications/internal/notification/domain"
	"github.com/tis-trainee/notifications/pkg/config"
)

// Engine renders notification templates, caching parsed template sets by
// file path.
type Engine struct {
	dir      string
	versions map[string]config.TemplateVersionConfig
	loc      *time.Location

	mu    sync.Mutex
	cache map[string]*template.Template
}

// New constructs an Engine that loads templates from dir, selecting the
// version configured per notification type and converting timestamp
// variables to loc before rendering. Version keys are normalized to upper
// case: viper lower-cases map keys when unmarshalling, but notification
// type names are upper case on the wire.
func New(dir string, versions map[string]config.TemplateVersionConfig, loc *time.Location) *Engine {
	normalized := make(map[string]config.TemplateVersionConfig, len(versions))
	for k, v := range versions {
		normalized[strings.ToUpper(k)] = v
	}
	return &Engine{
		dir:      dir,
		versions: normalized,
		loc:      loc,
		cache:    make(map[string]*template.Template),
	}
}

// Render implements ports.TemplateRenderer. Subject text is collapsed to a
// single line of whitespace-normalized text; unknown template variables
// render as empty per the html/template zero-value behavior.
func (e *Engine) Render(ctx context.Context, notifType domain.NotificationType, channel domain.Channel, vars map[string]interface{}) (string, string, string, error) {
	versionCfg := e.versions[string(notifType)]
	version := versionCfg.Email
	if channel == domain.ChannelInApp {
		version = versionCfg.InApp
	}
	if version == "" {
		return "", "", "", domain.NewTemplateError(string(notifType), fmt.Sprintf("no %s template version configured", channel)).WithInner(domain.ErrTemplateNotFound)
	}

	tmpl, err := e.load(string(notifType), version)
	if err != nil {
		return "", "", "", err
	}

	zoned := e.zoneTimestamps(vars)

	var subject string
	if channel == domain.ChannelEmail {
		var buf bytes.Buffer
		if err := tmpl.ExecuteTemplate(&buf, "subject", zoned); err != nil {
			return "", "", "", domain.NewTemplateError(string(notifType), "render subject").WithInner(err)
		}
		subject = collapseWhitespace(buf.String())
	}

	var contentBuf bytes.Buffer
	if err := tmpl.ExecuteTemplate(&contentBuf, "content", zoned); err != nil {
		return "", "", "", domain.NewTemplateError(string(notifType), "render content").WithInner(err)
	}

	return subject, contentBuf.String(), version, nil
}

// zoneTimestamps converts every variable whose runtime value is an absolute
// timestamp to the configured display timezone; other types pass through
// unchanged. Variables that round-tripped through a JSON schedule payload
// arrive as RFC 3339 strings rather than time.Time, so those are restored
// to zoned times too.
func (e *Engine) zoneTimestamps(vars map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(vars))
	for k, v := range vars {
		switch val := v.(type) {
		case time.Time:
			out[k] = val.In(e.loc)
		case primitive.DateTime:
			// History rows loaded back from Mongo decode stored times as
			// BSON datetimes.
			out[k] = val.Time().In(e.loc)
		case string:
			if t, err := time.Parse(time.RFC3339Nano, val); err == nil {
				out[k] = t.In(e.loc)
			} else {
				out[k] = val
			}
		default:
			out[k] = v
		}
	}
	return out
}

func collapseWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func (e *Engine) load(notifType, version string) (*template.Template, error) {
	key := notifType + "/" + version
	e.mu.Lock()
	defer e.mu.Unlock()

	if tmpl, ok := e.cache[key]; ok {
		return tmpl, nil
	}

	path := filepath.Join(e.dir, version, notifType+".html")
	tmpl, err := template.ParseFiles(path)
	if err != nil {
		return nil, fmt.Errorf("parse template %s: %w", path, err)
	}
	e.cache[key] = tmpl
	return tmpl, nil
}
