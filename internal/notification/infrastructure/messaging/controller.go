// Package messaging implements the whitelist/flag/pilot gating that decides
// whether a notification is actually permitted to go out, independent of
// whether the triggering entity itself warrants one.
package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/mail"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/tis-trainee/notifications/internal/notification/domain"
	"github.com/tis-trainee/notifications/pkg/config"
)

// Controller implements ports.MessagingController.
type Controller struct {
	cfg          *config.NotificationConfig
	httpClient   *http.Client
	limiter      *rate.Limiter
	referenceURL string
}

// New constructs a Controller from notification configuration, rate
// limiting its outbound calls to the reference service.
func New(cfg *config.NotificationConfig) *Controller {
	return &Controller{
		cfg:          cfg,
		httpClient:   &http.Client{Timeout: 5 * time.Second},
		limiter:      rate.NewLimiter(rate.Limit(10), 20),
		referenceURL: cfg.ReferenceServiceURL,
	}
}

// IsValidRecipient reports whether personId is whitelisted; if it is not,
// the channel's global enable flag decides instead.
func (c *Controller) IsValidRecipient(ctx context.Context, personID string, channel domain.Channel) bool {
	for _, allowed := range c.cfg.Whitelist {
		if allowed == personID {
			return true
		}
	}
	switch channel {
	case domain.ChannelEmail:
		return c.cfg.Email.Enabled
	case domain.ChannelInApp:
		return c.cfg.InApp.Enabled
	default:
		return false
	}
}

// IsPlacementInPilot2024 asks the reference service whether a placement is
// part of the 2024 pilot rollout.
func (c *Controller) IsPlacementInPilot2024(ctx context.Context, personID, placementID string) (bool, error) {
	return c.pilotCheck(ctx, fmt.Sprintf("%s/api/pilot/placement?personId=%s&placementId=%s", c.referenceURL, personID, placementID))
}

// IsProgrammeMembershipInPilot2024 asks the reference service whether a
// programme membership is part of the 2024 pilot rollout.
func (c *Controller) IsProgrammeMembershipInPilot2024(ctx context.Context, personID, programmeMembershipID string) (bool, error) {
	return c.pilotCheck(ctx, fmt.Sprintf("%s/api/pilot/programme-membership?personId=%s&programmeMembershipId=%s", c.referenceURL, personID, programmeMembershipID))
}

// IsProgrammeMembershipNewStarter asks the reference service whether a
// programme membership represents a genuinely new starter rather than an
// existing trainee moving between programmes.
func (c *Controller) IsProgrammeMembershipNewStarter(ctx context.Context, personID, programmeMembershipID string) (bool, error) {
	return c.pilotCheck(ctx, fmt.Sprintf("%s/api/new-starter/programme-membership?personId=%s&programmeMembershipId=%s", c.referenceURL, personID, programmeMembershipID))
}

// pilotCheck performs a rate-limited GET against the reference service and
// decodes a {"result": bool|null} response. Any error, non-200 status, or
// a null result is fail-closed to false: these checks only ever narrow who
// receives a notification, never widen it, so a conservative failure mode
// is safe.
func (c *Controller) pilotCheck(ctx context.Context, url string) (bool, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return false, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return false, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false, nil
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return false, nil
	}

	var result struct {
		Result *bool `json:"result"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return false, nil
	}
	if result.Result == nil {
		return false, nil
	}
	return *result.Result, nil
}

// ResolveLocalOfficeContact looks up a managing local office's contact
// from the reference service, normalizing an unusable raw value to the
// fallback support contact.
func (c *Controller) ResolveLocalOfficeContact(ctx context.Context, owner string) (*domain.LocalOfficeContact, error) {
	if owner == "" {
		return fallbackContact(owner), nil
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return fallbackContact(owner), nil
	}

	url := fmt.Sprintf("%s/api/local-office?name=%s", c.referenceURL, owner)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fallbackContact(owner), nil
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fallbackContact(owner), nil
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fallbackContact(owner), nil
	}

	var result struct {
		ContactValue string `json:"contactValue"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil || !usableContact(result.ContactValue) {
		return fallbackContact(owner), nil
	}

	return &domain.LocalOfficeContact{
		Type:         owner,
		ContactValue: result.ContactValue,
		ContactHref:  classifyContact(result.ContactValue),
	}, nil
}

func fallbackContact(owner string) *domain.LocalOfficeContact {
	return &domain.LocalOfficeContact{
		Type:         owner,
		ContactValue: domain.FallbackSupportContact,
		ContactHref:  domain.ContactHrefNonHref,
	}
}

// usableContact reports whether a raw local-office contact value is
// usable as-is: a single email address or a valid URL.
func usableContact(value string) bool {
	return value != "" && classifyContact(value) != domain.ContactHrefNonHref
}

func classifyContact(value string) domain.ContactHref {
	if isSingleEmail(value) {
		return domain.ContactHrefEmail
	}
	if isValidURL(value) {
		return domain.ContactHrefURL
	}
	return domain.ContactHrefNonHref
}

// isSingleEmail reports whether value parses as exactly one email address.
func isSingleEmail(value string) bool {
	addr, err := mail.ParseAddress(value)
	return err == nil && addr.Address == value
}

// isValidURL reports whether value is an absolute http(s) URL.
func isValidURL(value string) bool {
	u, err := url.ParseRequestURI(value)
	return err == nil && (strings.HasPrefix(u.Scheme, "http")) && u.Host != ""
}
