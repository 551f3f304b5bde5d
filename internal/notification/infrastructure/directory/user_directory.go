// Package directory resolves trainee identities against the upstream user
// directory. The person-id to user-id map is cached in Redis and rebuilt
// with a single paginated scan of the whole directory; the scan is rate
// limited, so one rebuild warms lookups for every trainee rather than one.
package directory

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/tis-trainee/notifications/internal/notification/application/ports"
	"github.com/tis-trainee/notifications/internal/notification/infrastructure/resilience"
	apperrors "github.com/tis-trainee/notifications/pkg/errors"
	"github.com/tis-trainee/notifications/pkg/logger"
)

const (
	accountKeyPrefix = "user-accounts:"
	accountCacheTTL  = 24 * time.Hour
)

// AccountCache is the subset of cache operations the directory needs: set
// membership per trainee person id.
type AccountCache interface {
	Members(ctx context.Context, key string) ([]string, error)
	Add(ctx context.Context, key string, ttl time.Duration, members ...string) error
}

// RedisAccountCache backs AccountCache with a Redis set per trainee.
type RedisAccountCache struct {
	client *redis.Client
}

// NewRedisAccountCache constructs a RedisAccountCache.
func NewRedisAccountCache(client *redis.Client) *RedisAccountCache {
	return &RedisAccountCache{client: client}
}

// Members returns the cached set for key, or an empty slice if none.
func (c *RedisAccountCache) Members(ctx context.Context, key string) ([]string, error) {
	return c.client.SMembers(ctx, key).Result()
}

// Add adds members to key's set and refreshes its TTL.
func (c *RedisAccountCache) Add(ctx context.Context, key string, ttl time.Duration, members ...string) error {
	vals := make([]interface{}, len(members))
	for i, m := range members {
		vals[i] = m
	}
	if err := c.client.SAdd(ctx, key, vals...).Err(); err != nil {
		return err
	}
	return c.client.Expire(ctx, key, ttl).Err()
}

// UserDirectory implements ports.UserDirectory against the upstream user
// directory service. Account-id lookups read the warm cache; a miss
// triggers a full rebuild scan of the directory, at most once per cooldown
// window (the deadline advances on each attempt, not only on success, so
// concurrent misses during the window cannot stampede the upstream).
type UserDirectory struct {
	cache      AccountCache
	httpClient *http.Client
	baseURL    string
	cooldown   time.Duration
	breaker    *resilience.CircuitBreaker
	log        *logger.Logger

	mu          sync.Mutex
	nextRebuild time.Time
}

// New constructs a UserDirectory.
func New(cache AccountCache, baseURL string, cooldown time.Duration, log *logger.Logger) *UserDirectory {
	breakerCfg := resilience.DefaultCircuitBreakerConfig()
	breakerCfg.Name = "trainee-directory"
	breakerCfg.OnStateChange = traineeDirectoryStateLogger()
	// A zero-match listing is an answer, not an upstream failure; it must
	// not trip the breaker.
	breakerCfg.IsSuccessful = func(err error) bool {
		if err == nil {
			return true
		}
		appErr, ok := apperrors.AsAppError(err)
		return ok && appErr.Code == apperrors.ErrCodeUserNotFound
	}

	return &UserDirectory{
		cache:      cache,
		httpClient: &http.Client{Timeout: 5 * time.Second},
		baseURL:    baseURL,
		cooldown:   cooldown,
		breaker:    resilience.NewCircuitBreaker(breakerCfg),
		log:        log,
	}
}

// traineeDirectoryStateLogger logs circuit breaker transitions through zap,
// independently of the zerolog-based *logger.Logger the rest of the package
// uses: state-change events are low-volume and structured enough that a
// dedicated sink is worth the second logger.
func traineeDirectoryStateLogger() func(name string, from, to resilience.State) {
	zl, err := zap.NewProduction()
	if err != nil {
		zl = zap.NewNop()
	}
	return func(name string, from, to resilience.State) {
		zl.Warn("circuit breaker state change",
			zap.String("breaker", name),
			zap.String("from", from.String()),
			zap.String("to", to.String()),
		)
	}
}

// Lookup implements ports.UserDirectory: the trainee's account ids from the
// warm cache, joined with a single-shot details query for the first one.
func (d *UserDirectory) Lookup(ctx context.Context, traineeID string) (*ports.TraineeContactDetails, error) {
	ids, err := d.GetUserAccountIds(ctx, traineeID)
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, apperrors.Newf(apperrors.ErrCodeUserNotFound, "no user account linked to trainee %s", traineeID)
	}
	sort.Strings(ids)

	details, err := d.GetUserDetailsByID(ctx, ids[0])
	if err != nil {
		return nil, err
	}
	return &ports.TraineeContactDetails{
		TraineeID:  traineeID,
		Email:      details.Email,
		GivenName:  details.GivenName,
		FamilyName: details.FamilyName,
	}, nil
}

// GetUserAccountIds implements ports.UserDirectory. On a cache miss it
// rebuilds the entire person-id to user-id map from the directory, so the
// next trainee's miss is already warm; the rebuild itself is bounded to one
// per cooldown window.
func (d *UserDirectory) GetUserAccountIds(ctx context.Context, personID string) ([]string, error) {
	key := accountKeyPrefix + personID

	ids, err := d.cache.Members(ctx, key)
	if err == nil && len(ids) > 0 {
		return ids, nil
	}

	if !d.canRebuild() {
		return nil, fmt.Errorf("no cached user accounts for %s and the directory rebuild is rate-limited", personID)
	}

	if err := d.rebuildAccountCache(ctx); err != nil {
		return nil, fmt.Errorf("rebuild user account cache: %w", err)
	}

	return d.cache.Members(ctx, key)
}

// canRebuild enforces the rebuild cooldown: at most one full directory scan
// per window, counting attempts so concurrent misses share one slot.
func (d *UserDirectory) canRebuild() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	now := time.Now()
	if now.Before(d.nextRebuild) {
		return false
	}
	d.nextRebuild = now.Add(d.cooldown)
	return true
}

// accountPage is one page of the directory's account listing.
type accountPage struct {
	Accounts []struct {
		UserID    string `json:"userId"`
		TraineeID string `json:"traineeId"`
	} `json:"accounts"`
	NextPageToken string `json:"nextPageToken"`
}

// rebuildAccountCache scans the whole directory, one page at a time, and
// writes every trainee's account-id set to the cache.
func (d *UserDirectory) rebuildAccountCache(ctx context.Context) error {
	byTrainee := make(map[string][]string)

	err := d.breaker.ExecuteContext(ctx, func(ctx context.Context) error {
		pageToken := ""
		for {
			page, fetchErr := d.fetchAccountPage(ctx, pageToken)
			if fetchErr != nil {
				return fetchErr
			}
			for _, a := range page.Accounts {
				if a.TraineeID == "" || a.UserID == "" {
					continue
				}
				byTrainee[a.TraineeID] = append(byTrainee[a.TraineeID], a.UserID)
			}
			if page.NextPageToken == "" {
				return nil
			}
			pageToken = page.NextPageToken
		}
	})
	if err != nil {
		return err
	}

	for traineeID, userIDs := range byTrainee {
		if cacheErr := d.cache.Add(ctx, accountKeyPrefix+traineeID, accountCacheTTL, userIDs...); cacheErr != nil {
			d.log.Warn().Err(cacheErr).Str("traineeId", traineeID).Msg("failed to cache user account ids")
		}
	}
	d.log.Info().Int("trainees", len(byTrainee)).Msg("rebuilt user account cache")
	return nil
}

func (d *UserDirectory) fetchAccountPage(ctx context.Context, pageToken string) (*accountPage, error) {
	u := d.baseURL + "/api/user-accounts"
	if pageToken != "" {
		u += "?pageToken=" + url.QueryEscape(pageToken)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("user directory returned status %d", resp.StatusCode)
	}

	var page accountPage
	if err := json.NewDecoder(resp.Body).Decode(&page); err != nil {
		return nil, fmt.Errorf("decode user account page: %w", err)
	}
	return &page, nil
}

// GetUserDetailsByID implements ports.UserDirectory.
func (d *UserDirectory) GetUserDetailsByID(ctx context.Context, userID string) (*ports.UserDetails, error) {
	return d.findUser(ctx, "id", userID)
}

// GetUserDetailsByEmail implements ports.UserDirectory.
func (d *UserDirectory) GetUserDetailsByEmail(ctx context.Context, email string) (*ports.UserDetails, error) {
	return d.findUser(ctx, "email", email)
}

// findUser runs a single-shot filtered listing against the directory.
func (d *UserDirectory) findUser(ctx context.Context, filter, value string) (*ports.UserDetails, error) {
	var details *ports.UserDetails

	err := d.breaker.ExecuteContext(ctx, func(ctx context.Context) error {
		u := fmt.Sprintf("%s/api/users?%s=%s", d.baseURL, filter, url.QueryEscape(value))
		req, reqErr := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
		if reqErr != nil {
			return reqErr
		}

		resp, doErr := d.httpClient.Do(req)
		if doErr != nil {
			return doErr
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("user directory returned status %d", resp.StatusCode)
		}

		var result struct {
			Users []ports.UserDetails `json:"users"`
		}
		if decErr := json.NewDecoder(resp.Body).Decode(&result); decErr != nil {
			return fmt.Errorf("decode user listing: %w", decErr)
		}
		if len(result.Users) == 0 {
			return apperrors.Newf(apperrors.ErrCodeUserNotFound, "no directory user with %s %s", filter, value)
		}
		details = &result.Users[0]
		return nil
	})
	if err != nil {
		return nil, err
	}
	return details, nil
}
