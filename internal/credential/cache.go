// Package credential implements the validated LRU of upstream clients keyed
// by credential fingerprint (C4): syntactic validation of BYOK credentials,
// semantic validation via a cached probe, and LRU eviction of idle clients.
package credential

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"regexp"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/lumenchat/chatcore/internal/generative"
	"github.com/lumenchat/chatcore/internal/logger"
)

const validationTTL = time.Hour

var credentialShapeRE = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// ClientFactory constructs a new provider client bound to a credential.
// Called on a cache miss.
type ClientFactory func(credential string) (generative.Client, error)

// Fingerprint returns the first 16 hex chars of SHA-256(credential), the
// non-reversible cache key used everywhere a credential must be named
// without being logged.
func Fingerprint(credential string) string {
	sum := sha256.Sum256([]byte(credential))
	return hex.EncodeToString(sum[:])[:16]
}

// Sanitize renders a credential safe to log: "first4…last4", never the raw
// value.
func Sanitize(credential string) string {
	if len(credential) <= 8 {
		return "****"
	}
	return credential[:4] + "…" + credential[len(credential)-4:]
}

// validSyntax checks the BYOK credential's prefix/length/charset shape.
func validSyntax(credential string) bool {
	if credential == "" {
		return false
	}
	if len(credential) < 39 || len(credential) > 100 {
		return false
	}
	if len(credential) < 4 || credential[:4] != "AIza" {
		return false
	}
	return credentialShapeRE.MatchString(credential)
}

type validationEntry struct {
	valid      bool
	reason     string
	observedAt time.Time
}

func (v validationEntry) expired() bool {
	return time.Since(v.observedAt) > validationTTL
}

type clientEntry struct {
	client generative.Client
}

// Result is returned by Get: the resolved client and whether it came from a
// client-supplied (BYOK) credential rather than the server's own.
type Result struct {
	Client       generative.Client
	UsedClientKey bool
}

// Cache implements CredentialCache (C4).
type Cache struct {
	factory ClientFactory
	log     *logger.Logger

	mu         sync.Mutex
	clients    *lru.Cache[string, clientEntry]
	validation map[string]validationEntry

	serverFingerprint string
	serverClient      generative.Client
	serverCredential  string
}

// New constructs a Cache. serverCredential is the process-wide fallback
// credential whose client is a singleton, never evicted.
func New(capacity int, serverCredential string, factory ClientFactory, log *logger.Logger) (*Cache, error) {
	if capacity <= 0 {
		capacity = 100
	}
	clients, err := lru.New[string, clientEntry](capacity)
	if err != nil {
		return nil, err
	}

	c := &Cache{
		factory:           factory,
		log:               log.WithComponent("credential"),
		clients:           clients,
		validation:        make(map[string]validationEntry),
		serverCredential:  serverCredential,
		serverFingerprint: Fingerprint(serverCredential),
	}
	return c, nil
}

// Get resolves the client to use for this turn: the BYOK credential if
// syntactically and semantically valid, otherwise the server credential.
func (c *Cache) Get(ctx context.Context, credential string) (Result, error) {
	if credential == "" || !validSyntax(credential) {
		client, err := c.serverClientHandle()
		return Result{Client: client, UsedClientKey: false}, err
	}

	fp := Fingerprint(credential)

	if entry, ok := c.getValidation(fp); ok && !entry.expired() {
		if !entry.valid {
			c.log.Info("falling back to server credential, cached validation marked invalid", "fingerprint", fp)
			client, err := c.serverClientHandle()
			return Result{Client: client, UsedClientKey: false}, err
		}
		client, err := c.clientFor(fp, credential)
		return Result{Client: client, UsedClientKey: true}, err
	}

	client, err := c.clientFor(fp, credential)
	if err != nil {
		return Result{}, err
	}

	if err := c.probe(ctx, fp, client); err != nil {
		if isAuthFailure(err) {
			c.log.Warn("credential failed semantic validation, falling back to server credential", "fingerprint", fp, "credential", Sanitize(credential))
			fallback, ferr := c.serverClientHandle()
			return Result{Client: fallback, UsedClientKey: false}, ferr
		}
		// Non-auth errors (network, quota) leave the key provisionally valid.
		c.log.Warn("credential probe failed with a non-auth error, proceeding provisionally", "fingerprint", fp, "error", err)
	}

	return Result{Client: client, UsedClientKey: true}, nil
}

// serverClientHandle lazily constructs the singleton server-credential
// client, which is never stored in the evictable LRU.
func (c *Cache) serverClientHandle() (generative.Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.serverClient != nil {
		return c.serverClient, nil
	}
	client, err := c.factory(c.serverCredential)
	if err != nil {
		return nil, err
	}
	c.serverClient = client
	return client, nil
}

// clientFor returns the cached client for fp, constructing and inserting
// one on a miss. The server credential's own fingerprint is always routed
// to the singleton handle so it can never be evicted.
func (c *Cache) clientFor(fp, credential string) (generative.Client, error) {
	if fp == c.serverFingerprint {
		return c.serverClientHandle()
	}

	c.mu.Lock()
	if entry, ok := c.clients.Get(fp); ok {
		c.mu.Unlock()
		return entry.client, nil
	}
	c.mu.Unlock()

	client, err := c.factory(credential)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.clients.Add(fp, clientEntry{client: client})
	c.mu.Unlock()

	return client, nil
}

func (c *Cache) getValidation(fp string) (validationEntry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.validation[fp]
	return entry, ok
}

func (c *Cache) setValidation(fp string, valid bool, reason string) {
	c.mu.Lock()
	c.validation[fp] = validationEntry{valid: valid, reason: reason, observedAt: time.Now()}
	c.mu.Unlock()
}

// probe issues the minimal validation generation for fp. Concurrent probes
// for the same fingerprint (e.g. two requests racing after the same
// validation entry expires) each hit the upstream independently; that's
// still correct, just occasionally redundant.
func (c *Cache) probe(ctx context.Context, fp string, client generative.Client) error {
	err := client.Probe(ctx)
	if err == nil {
		c.setValidation(fp, true, "")
	} else if isAuthFailure(err) {
		c.setValidation(fp, false, err.Error())
	}
	return err
}

func isAuthFailure(err error) bool {
	var authErr *generative.ErrAuth
	return errors.As(err, &authErr)
}
