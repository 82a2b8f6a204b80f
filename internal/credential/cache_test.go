package credential

import (
	"context"
	"log/slog"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/lumenchat/chatcore/internal/chatmodel"
	"github.com/lumenchat/chatcore/internal/generative"
	"github.com/lumenchat/chatcore/internal/logger"
)

func testLogger() *logger.Logger {
	return logger.New(logger.Config{Level: slog.LevelError, Format: "text"})
}

func validKey(suffix string) string {
	return "AIza" + strings.Repeat("x", 35-len(suffix)) + suffix
}

type stubClient struct {
	credential string
	probeErr   error
}

func (s *stubClient) StartStream(ctx context.Context, history []chatmodel.NormalizedTurn, parts []chatmodel.MessagePart, tools []generative.ToolDefinition) (generative.Stream, error) {
	return nil, nil
}

func (s *stubClient) ContinueStream(ctx context.Context, history []chatmodel.NormalizedTurn, parts []chatmodel.MessagePart, functionResponses []chatmodel.MessagePart, tools []generative.ToolDefinition) (generative.Stream, error) {
	return nil, nil
}

func (s *stubClient) Probe(ctx context.Context) error { return s.probeErr }

func countingFactory(calls *int32, probeErr error) ClientFactory {
	return func(credential string) (generative.Client, error) {
		atomic.AddInt32(calls, 1)
		return &stubClient{credential: credential, probeErr: probeErr}, nil
	}
}

func TestFingerprintDeterministic(t *testing.T) {
	k := validKey("AAAA")
	if Fingerprint(k) != Fingerprint(k) {
		t.Fatalf("fingerprint must be deterministic")
	}
	if len(Fingerprint(k)) != 16 {
		t.Fatalf("expected 16-hex-char fingerprint, got %d chars", len(Fingerprint(k)))
	}
}

func TestFingerprintDiffersForDifferentKeys(t *testing.T) {
	if Fingerprint(validKey("AAAA")) == Fingerprint(validKey("BBBB")) {
		t.Fatalf("expected different keys to fingerprint differently")
	}
}

func TestSanitizeNeverRevealsMoreThan8Chars(t *testing.T) {
	k := validKey("AAAA")
	s := Sanitize(k)
	revealed := strings.ReplaceAll(s, "…", "")
	if len(revealed) > 8 {
		t.Fatalf("sanitized credential reveals more than 8 chars: %q", s)
	}
	if strings.Contains(s, k) {
		t.Fatalf("sanitized output must not contain the raw credential")
	}
}

func TestValidSyntaxRules(t *testing.T) {
	wrongPrefix := "NOPE" + strings.Repeat("x", 35)

	cases := map[string]bool{
		"":               false,
		"short":          false,
		validKey("AAAA"): true,
		wrongPrefix:      false,
	}
	for k, want := range cases {
		if got := validSyntax(k); got != want {
			t.Errorf("validSyntax(%q) = %v, want %v", k, got, want)
		}
	}
}

func TestValidSyntaxRejectsBadCharset(t *testing.T) {
	k := "AIza" + strings.Repeat("x", 30) + "!!!!!"
	if validSyntax(k) {
		t.Fatalf("expected key with invalid charset to be rejected")
	}
}

func TestCacheGetFallsBackOnInvalidSyntax(t *testing.T) {
	var calls int32
	serverCred := validKey("SRVR")
	c, err := New(10, serverCred, countingFactory(&calls, nil), testLogger())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	res, err := c.Get(context.Background(), "not-a-real-key")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if res.UsedClientKey {
		t.Fatalf("expected fallback to server credential for invalid syntax")
	}
}

func TestCacheGetUsesClientKeyWhenValid(t *testing.T) {
	var calls int32
	serverCred := validKey("SRVR")
	c, err := New(10, serverCred, countingFactory(&calls, nil), testLogger())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	res, err := c.Get(context.Background(), validKey("USER"))
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !res.UsedClientKey {
		t.Fatalf("expected BYOK client to be used for a syntactically and semantically valid key")
	}
}

func TestCacheGetFallsBackOnAuthFailure(t *testing.T) {
	var calls int32
	serverCred := validKey("SRVR")
	authErr := &generative.ErrAuth{Reason: "API_KEY_INVALID"}
	c, err := New(10, serverCred, countingFactory(&calls, authErr), testLogger())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	res, err := c.Get(context.Background(), validKey("USER"))
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if res.UsedClientKey {
		t.Fatalf("expected fallback to server credential after auth failure")
	}
}

func TestCacheClientReusedOnSecondGet(t *testing.T) {
	var calls int32
	serverCred := validKey("SRVR")
	c, err := New(10, serverCred, countingFactory(&calls, nil), testLogger())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	key := validKey("USER")
	if _, err := c.Get(context.Background(), key); err != nil {
		t.Fatalf("first Get: %v", err)
	}
	if _, err := c.Get(context.Background(), key); err != nil {
		t.Fatalf("second Get: %v", err)
	}

	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Fatalf("expected factory to be called once for a repeated credential, called %d times", got)
	}
}

func TestCacheServerCredentialNeverEvicted(t *testing.T) {
	var calls int32
	serverCred := validKey("SRVR")
	c, err := New(1, serverCred, countingFactory(&calls, nil), testLogger())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	// Fill the tiny LRU with another client, which would evict anything
	// sharing its capacity with the server credential.
	if _, err := c.Get(context.Background(), validKey("USR1")); err != nil {
		t.Fatalf("Get usr1: %v", err)
	}
	if _, err := c.Get(context.Background(), validKey("USR2")); err != nil {
		t.Fatalf("Get usr2: %v", err)
	}

	if _, err := c.serverClientHandle(); err != nil {
		t.Fatalf("server client handle should always resolve: %v", err)
	}
}

// TestCacheGetReprobesAfterValidationExpiry guards against a cached
// validation outcome being trusted forever: a credential that fails its
// first probe must still fail after its validation entry expires and Get
// re-probes it, not silently pass through as valid.
func TestCacheGetReprobesAfterValidationExpiry(t *testing.T) {
	var calls int32
	serverCred := validKey("SRVR")
	authErr := &generative.ErrAuth{Reason: "API_KEY_INVALID"}
	c, err := New(10, serverCred, countingFactory(&calls, authErr), testLogger())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	key := validKey("USER")
	res, err := c.Get(context.Background(), key)
	if err != nil {
		t.Fatalf("first Get: %v", err)
	}
	if res.UsedClientKey {
		t.Fatalf("expected fallback to server credential on first probe failure")
	}

	fp := Fingerprint(key)
	c.mu.Lock()
	entry := c.validation[fp]
	entry.observedAt = entry.observedAt.Add(-2 * validationTTL)
	c.validation[fp] = entry
	c.mu.Unlock()

	res, err = c.Get(context.Background(), key)
	if err != nil {
		t.Fatalf("second Get: %v", err)
	}
	if res.UsedClientKey {
		t.Fatalf("expected re-probe after TTL expiry to still reject a permanently invalid credential")
	}
}
