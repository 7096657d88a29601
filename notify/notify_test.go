package notify

import (
	"context"
	"errors"
	"net/smtp"
	"testing"
	"time"

	"github.com/jordan-wright/email"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aluiziolira/go-auction-deals/config"
	"github.com/aluiziolira/go-auction-deals/models"
	"github.com/aluiziolira/go-auction-deals/refresh"
)

func digestConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.DigestFrom = "Deal Scout <scout@example.test>"
	cfg.DigestRecipients = []string{"driver@example.test"}
	cfg.SMTPHost = "smtp.example.test"
	cfg.SMTPPort = 2525
	cfg.SMTPUsername = "scout"
	cfg.SMTPPassword = "secret"
	cfg.DigestTopN = 2
	return cfg
}

func sample() []*models.Listing {
	return []*models.Listing{
		{ID: "lot-1", Title: "1991 Acura NSX <Sebring Silver>", CurrentBid: 61500, MarketValue: 110700, DiscountPct: 44, HoursLeft: 0.5, BidCount: 31, DealScore: 92, URL: "https://carsandbids.com/auctions/nsx"},
		{ID: "lot-2", Title: "2008 BMW M3 Sedan", CurrentBid: 24000, MarketValue: 31200, DiscountPct: 23, HoursLeft: 7.5, BidCount: 9, NoReserve: true, DealScore: 67, URL: "https://carsandbids.com/auctions/m3"},
		{ID: "lot-3", Title: "2015 Ford Fiesta ST", CurrentBid: 9000, MarketValue: 11700, DiscountPct: 23, HoursLeft: 70, BidCount: 4, DealScore: 52},
	}
}

type sent struct {
	msg  *email.Email
	addr string
	auth smtp.Auth
}

func TestEmailNotifierRendersDigest(t *testing.T) {
	n := NewEmailNotifier(digestConfig())
	n.now = func() time.Time { return time.Date(2026, 7, 4, 8, 0, 0, 0, time.UTC) }

	var calls []sent
	n.SetSender(func(msg *email.Email, addr string, auth smtp.Auth) error {
		calls = append(calls, sent{msg, addr, auth})
		return nil
	})

	require.NoError(t, n.Notify(context.Background(), sample()[:2]))
	require.Len(t, calls, 1)

	got := calls[0]
	assert.Equal(t, "smtp.example.test:2525", got.addr)
	assert.NotNil(t, got.auth)
	assert.Equal(t, []string{"driver@example.test"}, got.msg.To)
	assert.Equal(t, "Auction deals for Jul 4, 2026: 2 picks", got.msg.Subject)

	text := string(got.msg.Text)
	assert.Contains(t, text, "1. 1991 Acura NSX <Sebring Silver> (score 92)")
	assert.Contains(t, text, "Bid $61,500, est. value $110,700, 44% under")
	assert.Contains(t, text, "30m left, 31 bids")
	assert.Contains(t, text, "7.5h left, 9 bids, no reserve")

	html := string(got.msg.HTML)
	assert.Contains(t, html, "1991 Acura NSX &lt;Sebring Silver&gt;")
	assert.NotContains(t, html, "<Sebring Silver>")
	assert.Contains(t, html, `<a href="https://carsandbids.com/auctions/m3">`)
}

func TestEmailNotifierRetriesWithoutAuth(t *testing.T) {
	n := NewEmailNotifier(digestConfig())

	var auths []smtp.Auth
	n.SetSender(func(_ *email.Email, _ string, auth smtp.Auth) error {
		auths = append(auths, auth)
		if auth != nil {
			return errors.New("smtp: server doesn't support AUTH")
		}
		return nil
	})

	require.NoError(t, n.Notify(context.Background(), sample()))
	require.Len(t, auths, 2)
	assert.Nil(t, auths[1])
}

func TestEmailNotifierErrors(t *testing.T) {
	n := NewEmailNotifier(digestConfig())
	n.SetSender(func(*email.Email, string, smtp.Auth) error {
		return errors.New("dial tcp: connection refused")
	})
	err := n.Notify(context.Background(), sample())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "send digest")

	called := false
	n.SetSender(func(*email.Email, string, smtp.Auth) error {
		called = true
		return nil
	})
	require.NoError(t, n.Notify(context.Background(), nil))
	assert.False(t, called, "empty digest should not be sent")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.ErrorIs(t, n.Notify(ctx, sample()), context.Canceled)
	assert.False(t, called)
}

type fakeCache struct {
	snap      *refresh.Snapshot
	next      *refresh.Snapshot
	refreshes []string
	err       error
}

func (f *fakeCache) Snapshot() *refresh.Snapshot { return f.snap }

func (f *fakeCache) Refresh(_ context.Context, reason string) error {
	f.refreshes = append(f.refreshes, reason)
	if f.err != nil {
		return f.err
	}
	f.snap = f.next
	return nil
}

type captureNotifier struct {
	got [][]*models.Listing
	err error
}

func (c *captureNotifier) Notify(_ context.Context, listings []*models.Listing) error {
	c.got = append(c.got, listings)
	return c.err
}

func TestDigestRefreshesStaleCache(t *testing.T) {
	now := time.Date(2026, 7, 4, 8, 0, 0, 0, time.UTC)
	cache := &fakeCache{
		snap: &refresh.Snapshot{Listings: sample()[2:], RefreshedAt: now.Add(-time.Hour)},
		next: &refresh.Snapshot{Listings: sample(), RefreshedAt: now},
	}
	notifier := &captureNotifier{}
	d := NewDigest(cache, notifier, digestConfig(), nil)
	d.now = func() time.Time { return now }

	require.NoError(t, d.Run(context.Background()))
	assert.Equal(t, []string{refresh.TriggerDigest}, cache.refreshes)
	require.Len(t, notifier.got, 1)
	require.Len(t, notifier.got[0], 2)
	assert.Equal(t, "lot-1", notifier.got[0][0].ID)
	assert.Equal(t, "lot-2", notifier.got[0][1].ID)
}

func TestDigestUsesCacheWhenRefreshFails(t *testing.T) {
	now := time.Date(2026, 7, 4, 8, 0, 0, 0, time.UTC)
	cache := &fakeCache{
		snap: &refresh.Snapshot{Listings: sample()[1:], RefreshedAt: now.Add(-time.Hour)},
		err:  errors.New("timeout"),
	}
	notifier := &captureNotifier{}
	d := NewDigest(cache, notifier, digestConfig(), nil)
	d.now = func() time.Time { return now }

	require.NoError(t, d.Run(context.Background()))
	require.Len(t, notifier.got, 1)
	assert.Equal(t, "lot-2", notifier.got[0][0].ID)
}

func TestDigestFreshCacheSkipsRefresh(t *testing.T) {
	now := time.Date(2026, 7, 4, 8, 0, 0, 0, time.UTC)
	cache := &fakeCache{snap: &refresh.Snapshot{Listings: sample(), RefreshedAt: now.Add(-time.Minute)}}
	notifier := &captureNotifier{err: errors.New("mailbox full")}
	d := NewDigest(cache, notifier, digestConfig(), nil)
	d.now = func() time.Time { return now }

	err := d.Run(context.Background())
	require.Error(t, err)
	assert.Empty(t, cache.refreshes)
}

func TestNewSchedulerRejectsBadSpec(t *testing.T) {
	d := NewDigest(&fakeCache{snap: &refresh.Snapshot{}}, &captureNotifier{}, digestConfig(), nil)

	_, err := NewScheduler("every morning", d, time.Minute)
	require.Error(t, err)

	s, err := NewScheduler("0 8 * * *", d, time.Minute)
	require.NoError(t, err)
	s.Start()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	s.Stop(ctx)
}

func TestFormatDollars(t *testing.T) {
	tests := map[int]string{
		0:       "$0",
		950:     "$950",
		1000:    "$1,000",
		61500:   "$61,500",
		1234567: "$1,234,567",
		-4200:   "-$4,200",
	}
	for in, want := range tests {
		assert.Equal(t, want, formatDollars(in), "formatDollars(%d)", in)
	}
}
