// Package router implements the C5 channel router: per-notification
// channel filtering, parallel dispatch fan-out, a retry loop with
// exponential backoff, and fallback-channel escalation.
package router

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/irfndi/notifyhub/internal/notify"
	"github.com/irfndi/notifyhub/internal/processor"
	"github.com/irfndi/notifyhub/internal/telemetry"
	"golang.org/x/sync/errgroup"
)

// maxRetryDelay caps exponential backoff within the retry loop, mirroring
// the dispatcher's own absolute retry-delay ceiling.
const maxRetryDelay = 5 * time.Minute

// PreferenceStore resolves per-user channel preferences, quiet hours, and
// frequency policy — an external collaborator, not owned by the router.
type PreferenceStore interface {
	PreferencesForUser(ctx context.Context, tenantID, userID string) ([]notify.ChannelPreference, error)
}

// RetryPolicy parameterizes the retry loop.
type RetryPolicy struct {
	MaxRetries   int
	InitialDelay time.Duration
	Backoff      float64
}

// DefaultRetryPolicy returns the baseline retry schedule: two retries,
// starting at a 2s delay, doubling each attempt.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxRetries: 2, InitialDelay: 2 * time.Second, Backoff: 2}
}

func (p RetryPolicy) delayFor(retryCount int) time.Duration {
	d := time.Duration(float64(p.InitialDelay) * math.Pow(p.Backoff, float64(retryCount)))
	if d > maxRetryDelay {
		return maxRetryDelay
	}
	return d
}

// Result is the router's contract output
type Result struct {
	Success           bool
	DeliveredChannels []notify.Channel
	FailedChannels    []notify.Channel
	Total             int
	Errors            map[notify.Channel]string
	RetryCount        int
	Elapsed           time.Duration
}

// Router dispatches a notification across its eligible channels via the
// registered Processors, applying preference filtering, parallel fan-out,
// retries, and fallback escalation.
type Router struct {
	registry *processor.Registry
	prefs    PreferenceStore
	retry    RetryPolicy
	clock    func() time.Time
}

// NewRouter constructs a Router. prefs may be nil, in which case no
// per-user preference/quiet-hours/frequency filtering is applied.
func NewRouter(registry *processor.Registry, prefs PreferenceStore, retry RetryPolicy) *Router {
	return &Router{registry: registry, prefs: prefs, retry: retry, clock: time.Now}
}

// Route implements the C5 contract.
func (r *Router) Route(ctx context.Context, n *notify.Notification) Result {
	start := r.clock()

	channels := r.filterChannels(ctx, n)
	if len(channels) == 0 {
		return Result{Success: true, Total: 0, Errors: map[notify.Channel]string{}, Elapsed: r.clock().Sub(start)}
	}

	delivered, failed, errs := r.attempt(ctx, n, channels)

	retryCount := 0
	for len(failed) > 0 && retryCount < r.retry.MaxRetries {
		delay := r.retry.delayFor(retryCount)
		select {
		case <-ctx.Done():
			return r.finalize(delivered, failed, errs, retryCount, start)
		case <-time.After(delay):
		}

		retryDelivered, retryFailed, retryErrs := r.attempt(ctx, n, failed)
		delivered = append(delivered, retryDelivered...)
		failed = retryFailed
		for ch, e := range retryErrs {
			errs[ch] = e
		}
		retryCount++
	}

	if len(failed) > 0 {
		delivered, failed = r.applyFallback(ctx, n, delivered, failed, errs)
	}

	return r.finalize(delivered, failed, errs, retryCount, start)
}

func (r *Router) finalize(delivered, failed []notify.Channel, errs map[notify.Channel]string, retryCount int, start time.Time) Result {
	return Result{
		Success:           len(failed) == 0,
		DeliveredChannels: delivered,
		FailedChannels:    failed,
		Total:             len(delivered) + len(failed),
		Errors:            errs,
		RetryCount:        retryCount,
		Elapsed:           r.clock().Sub(start),
	}
}

// filterChannels applies step 1 of the contract: per-user preferences,
// quiet hours, frequency policy, and the globally-registered channel set.
func (r *Router) filterChannels(ctx context.Context, n *notify.Notification) []notify.Channel {
	candidates := make([]notify.Channel, 0, len(n.Channels))
	for _, ch := range n.Channels {
		if _, ok := r.registry.Get(ch); ok {
			candidates = append(candidates, ch)
		}
	}

	if r.prefs == nil || len(n.Targeting.UserIDs) == 0 {
		return candidates
	}

	prefs, err := r.prefs.PreferencesForUser(ctx, n.TenantID, n.Targeting.UserIDs[0])
	if err != nil {
		telemetry.GetContextualLogger(ctx).WithField("operation", "router_preference_lookup").Warnf("preference lookup failed, using unfiltered channel set: %v", err)
		return candidates
	}

	byChannel := make(map[notify.Channel]notify.ChannelPreference, len(prefs))
	for _, p := range prefs {
		byChannel[p.Channel] = p
	}

	filtered := make([]notify.Channel, 0, len(candidates))
	now := time.Now()
	for _, ch := range candidates {
		pref, ok := byChannel[ch]
		if !ok {
			filtered = append(filtered, ch)
			continue
		}
		if !pref.Enabled || pref.Frequency == notify.FrequencyDisabled {
			continue
		}
		if inQuietHours(now, pref) {
			continue
		}
		filtered = append(filtered, ch)
	}
	return filtered
}

// inQuietHours reports whether now, interpreted in pref.Timezone, falls
// within [QuietHoursStart, QuietHoursEnd). A window that wraps midnight
// (start > end) is treated as overnight.
func inQuietHours(now time.Time, pref notify.ChannelPreference) bool {
	if pref.QuietHoursStart == "" || pref.QuietHoursEnd == "" {
		return false
	}
	loc := time.UTC
	if pref.Timezone != "" {
		if l, err := time.LoadLocation(pref.Timezone); err == nil {
			loc = l
		}
	}
	local := now.In(loc)
	nowMinutes := local.Hour()*60 + local.Minute()

	startMinutes, okStart := parseHHMM(pref.QuietHoursStart)
	endMinutes, okEnd := parseHHMM(pref.QuietHoursEnd)
	if !okStart || !okEnd {
		return false
	}

	if startMinutes <= endMinutes {
		return nowMinutes >= startMinutes && nowMinutes < endMinutes
	}
	return nowMinutes >= startMinutes || nowMinutes < endMinutes
}

func parseHHMM(s string) (int, bool) {
	var h, m int
	if _, err := fmt.Sscanf(s, "%d:%d", &h, &m); err != nil {
		return 0, false
	}
	return h*60 + m, true
}

// attempt fans out to each channel in parallel via errgroup, aggregating
// outcomes. A processor panic is recovered and counted as a channel
// failure, "individual channel's panic counts as a
// channel failure" rule.
func (r *Router) attempt(ctx context.Context, n *notify.Notification, channels []notify.Channel) (delivered, failed []notify.Channel, errs map[notify.Channel]string) {
	type outcome struct {
		channel   notify.Channel
		delivered bool
		err       string
	}
	outcomes := make([]outcome, len(channels))

	g, gctx := errgroup.WithContext(ctx)
	for i, ch := range channels {
		i, ch := i, ch
		g.Go(func() error {
			outcomes[i] = r.attemptOne(gctx, n, ch)
			return nil
		})
	}
	_ = g.Wait()

	errs = make(map[notify.Channel]string)
	for _, o := range outcomes {
		if o.delivered {
			delivered = append(delivered, o.channel)
		} else {
			failed = append(failed, o.channel)
			errs[o.channel] = o.err
		}
	}
	return delivered, failed, errs
}

func (r *Router) attemptOne(ctx context.Context, n *notify.Notification, ch notify.Channel) (out struct {
	channel   notify.Channel
	delivered bool
	err       string
}) {
	out.channel = ch
	defer func() {
		if rec := recover(); rec != nil {
			out.delivered = false
			out.err = fmt.Sprintf("panic: %v", rec)
		}
	}()

	proc, ok := r.registry.Get(ch)
	if !ok {
		out.err = "no processor registered for channel"
		return out
	}

	result := proc.Process(ctx, n)
	out.delivered = result.Success
	if !result.Success {
		out.err = result.Error
	}
	return out
}

// applyFallback implements step 4: after retries exhaust with residual
// failures, attempt the fallback strategy's channel set once (if not
// already delivered), removing successful fallback channels from failed.
func (r *Router) applyFallback(ctx context.Context, n *notify.Notification, delivered, failed []notify.Channel, errs map[notify.Channel]string) ([]notify.Channel, []notify.Channel) {
	fallbackChannels := fallbackSet(n.Policy, delivered)
	if len(fallbackChannels) == 0 {
		return delivered, failed
	}

	fbDelivered, fbFailed, fbErrs := r.attempt(ctx, n, fallbackChannels)
	for ch, e := range fbErrs {
		errs[ch] = e
	}

	delivered = append(delivered, fbDelivered...)

	remaining := failed[:0:0]
	for _, ch := range failed {
		if containsChannel(fbDelivered, ch) {
			continue
		}
		remaining = append(remaining, ch)
	}
	for _, ch := range fbFailed {
		if !containsChannel(remaining, ch) && !containsChannel(failed, ch) {
			remaining = append(remaining, ch)
		}
	}
	return delivered, remaining
}

// fallbackSet names the channels the fallback strategy adds, excluding
// any already delivered.
func fallbackSet(policy notify.DeliveryPolicy, delivered []notify.Channel) []notify.Channel {
	var candidates []notify.Channel
	switch policy.FallbackStrategy() {
	case notify.FallbackEmail:
		candidates = []notify.Channel{notify.ChannelEmail}
	case notify.FallbackWeb:
		candidates = []notify.Channel{notify.ChannelWeb}
	case notify.FallbackAll:
		candidates = []notify.Channel{notify.ChannelWeb, notify.ChannelEmail, notify.ChannelPush}
	default:
		return nil
	}

	out := make([]notify.Channel, 0, len(candidates))
	for _, ch := range candidates {
		if !containsChannel(delivered, ch) {
			out = append(out, ch)
		}
	}
	return out
}

func containsChannel(channels []notify.Channel, target notify.Channel) bool {
	for _, ch := range channels {
		if ch == target {
			return true
		}
	}
	return false
}
