// Package youtubechat discovers active live broadcasts and polls their live
// chat through the YouTube Data API. Tokens come from the refresher on every
// request, so a mid-session refresh needs no reconnect.
package youtubechat

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	yt "google.golang.org/api/youtube/v3"

	"github.com/chatspeakapp/chatspeak/backend/errs"
	"github.com/chatspeakapp/chatspeak/backend/oauth"
)

const fetchTimeout = 20 * time.Second

// Broadcast is an active live broadcast a session can attach to.
type Broadcast struct {
	ID         string
	Title      string
	ChannelID  string
	LiveChatID string
}

// Service builds API clients and discovers broadcasts.
type Service struct {
	refresher    *oauth.Refresher
	clock        clockwork.Clock
	pollFallback time.Duration
	extraOpts    []option.ClientOption
}

// New returns a Service. pollFallback is the poll interval used when the API
// response does not dictate one. Extra client options are for tests
// (endpoint and transport overrides).
func New(refresher *oauth.Refresher, pollFallback time.Duration, extra ...option.ClientOption) *Service {
	if pollFallback <= 0 {
		pollFallback = 10 * time.Second
	}
	return &Service{
		refresher:    refresher,
		clock:        clockwork.NewRealClock(),
		pollFallback: pollFallback,
		extraOpts:    extra,
	}
}

// WithClock injects a clock (tests).
func (s *Service) WithClock(c clockwork.Clock) *Service {
	s.clock = c
	return s
}

func (s *Service) api(ctx context.Context) (*yt.Service, error) {
	opts := []option.ClientOption{
		option.WithTokenSource(s.refresher.TokenSource(ctx, oauth.ProviderYouTube)),
	}
	opts = append(opts, s.extraOpts...)
	svc, err := yt.NewService(ctx, opts...)
	if err != nil {
		return nil, errs.Wrap(errs.KindUpstream, "youtube client init", err)
	}
	return svc, nil
}

// FetchLiveBroadcasts lists the authenticated account's active broadcasts.
// No active broadcast is an ordinary empty result, not an error. A rejected
// token gets one forced refresh and retry; a second rejection clears the
// credential and surfaces re-login.
func (s *Service) FetchLiveBroadcasts(ctx context.Context) ([]Broadcast, error) {
	ctx, cancel := context.WithTimeout(ctx, fetchTimeout)
	defer cancel()

	api, err := s.api(ctx)
	if err != nil {
		return nil, err
	}

	for attempt := 0; ; attempt++ {
		resp, err := api.LiveBroadcasts.List([]string{"snippet", "status"}).
			BroadcastStatus("active").
			MaxResults(10).
			Context(ctx).Do()
		if err == nil {
			out := make([]Broadcast, 0, len(resp.Items))
			for _, item := range resp.Items {
				b := Broadcast{ID: item.Id}
				if item.Snippet != nil {
					b.Title = item.Snippet.Title
					b.ChannelID = item.Snippet.ChannelId
					b.LiveChatID = item.Snippet.LiveChatId
				}
				out = append(out, b)
			}
			return out, nil
		}

		cerr := classifyAPIError(err)
		if errs.KindOf(cerr) != errs.KindAuthExpired {
			return nil, cerr
		}
		if attempt == 0 {
			// Force a refresh and try once more with the renewed token.
			s.refresher.Invalidate(ctx, oauth.ProviderYouTube)
			continue
		}
		s.refresher.Clear(ctx, oauth.ProviderYouTube)
		return nil, cerr
	}
}

// classifyAPIError maps Data API failures onto the error taxonomy. The 403
// sub-reason lives in the response body, not the status code.
func classifyAPIError(err error) error {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		body := strings.ToLower(gerr.Body + " " + gerr.Message)
		switch {
		case gerr.Code == 401:
			return errs.Wrap(errs.KindAuthExpired, "youtube rejected the access token", err)
		case gerr.Code == 403 && (strings.Contains(body, "quotaexceeded") || strings.Contains(body, "dailylimitexceeded")):
			// Quota 403s keep the credential; the token is fine, the
			// project's daily budget is spent.
			return errs.Wrap(errs.KindPermissionDenied, "youtube api quota exceeded", err)
		case gerr.Code == 403 && strings.Contains(body, "ratelimitexceeded"):
			return errs.Wrap(errs.KindRateLimited, "youtube api polling too fast", err)
		case gerr.Code == 403 && strings.Contains(body, "livestreamingnotenabled"):
			return errs.Wrap(errs.KindPermissionDenied, "live streaming is not enabled for this account", err)
		case gerr.Code == 403 && strings.Contains(body, "insufficientpermissions"):
			return errs.Wrap(errs.KindPermissionDenied, "token is missing the required youtube scope", err)
		case gerr.Code == 403:
			return errs.Wrap(errs.KindPermissionDenied, "youtube api access forbidden", err)
		case gerr.Code == 404:
			return errs.Wrap(errs.KindUpstreamEnded, "live chat not found or already ended", err)
		case gerr.Code == 429:
			return errs.Wrap(errs.KindRateLimited, "youtube api rate limited", err)
		case gerr.Code >= 500:
			return errs.Wrap(errs.KindTransientNetwork, "youtube api server error", err)
		default:
			return errs.Wrap(errs.KindUpstream, "youtube api error", err)
		}
	}
	// Refresher failures already carry a kind; pass them through.
	if errs.KindOf(err) != errs.KindUnknown {
		return err
	}
	return errs.Wrap(errs.KindTransientNetwork, "youtube api unreachable", err)
}
