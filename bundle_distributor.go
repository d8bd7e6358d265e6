package rowguard

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"sync"
	"time"

	"github.com/oarkflow/rowguard/logger"
)

// BundleSubscriber receives freshly signed schema bundles, typically an
// engine replica or an external cache invalidator.
type BundleSubscriber interface {
	OnBundle(ctx context.Context, pub ed25519.PublicKey, bundle *SignedSchemaBundle) error
}

type BundleSubscriberFunc func(ctx context.Context, pub ed25519.PublicKey, bundle *SignedSchemaBundle) error

func (f BundleSubscriberFunc) OnBundle(ctx context.Context, pub ed25519.PublicKey, bundle *SignedSchemaBundle) error {
	return f(ctx, pub, bundle)
}

// SchemaProvider yields the current table set to bundle and distribute.
type SchemaProvider func(ctx context.Context) ([]*TableSchema, error)

// SchemaBundleDistributor signs the current workspace schema and pushes it
// to subscribers whenever a change is announced. Signing keys rotate on a
// timer.
type SchemaBundleDistributor struct {
	provider         SchemaProvider
	pub              ed25519.PublicKey
	priv             ed25519.PrivateKey
	rotationInterval time.Duration
	notifyCh         chan struct{}
	stopCh           chan struct{}
	subscribers      []BundleSubscriber
	log              logger.Logger
	mu               sync.RWMutex
	started          bool
	wg               sync.WaitGroup
}

type SchemaBundleDistributorOption func(*SchemaBundleDistributor)

func WithBundleSigningKey(priv ed25519.PrivateKey) SchemaBundleDistributorOption {
	return func(d *SchemaBundleDistributor) {
		if priv != nil && len(priv) == ed25519.PrivateKeySize {
			d.priv = append(ed25519.PrivateKey{}, priv...)
			d.pub = priv.Public().(ed25519.PublicKey)
		}
	}
}

func WithBundleRotationInterval(interval time.Duration) SchemaBundleDistributorOption {
	return func(d *SchemaBundleDistributor) {
		if interval > 0 {
			d.rotationInterval = interval
		}
	}
}

func WithBundleLogger(l logger.Logger) SchemaBundleDistributorOption {
	return func(d *SchemaBundleDistributor) {
		if l != nil {
			d.log = l
		}
	}
}

func NewSchemaBundleDistributor(provider SchemaProvider, opts ...SchemaBundleDistributorOption) (*SchemaBundleDistributor, error) {
	if provider == nil {
		return nil, fmt.Errorf("schema provider is required")
	}
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate signing key: %w", err)
	}
	dist := &SchemaBundleDistributor{
		provider:         provider,
		priv:             priv,
		pub:              pub,
		rotationInterval: 24 * time.Hour,
		notifyCh:         make(chan struct{}, 1),
		stopCh:           make(chan struct{}),
		log:              logger.NewNullLogger(),
	}
	for _, opt := range opts {
		opt(dist)
	}
	return dist, nil
}

func (d *SchemaBundleDistributor) Start(ctx context.Context) {
	d.mu.Lock()
	if d.started {
		d.mu.Unlock()
		return
	}
	d.started = true
	d.mu.Unlock()

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		ticker := time.NewTicker(d.rotationInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-d.stopCh:
				return
			case <-d.notifyCh:
				if err := d.distribute(ctx); err != nil {
					d.log.Error("bundle distribution failed", "error", err.Error())
				}
			case <-ticker.C:
				if err := d.RotateSigningKey(); err != nil {
					d.log.Error("bundle key rotation failed", "error", err.Error())
				}
			}
		}
	}()
}

func (d *SchemaBundleDistributor) Stop(ctx context.Context) error {
	d.mu.Lock()
	if !d.started {
		d.mu.Unlock()
		return nil
	}
	d.started = false
	d.mu.Unlock()

	close(d.stopCh)
	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		return nil
	}
}

// NotifySchemaChange schedules a distribution. Coalesces when one is already
// pending.
func (d *SchemaBundleDistributor) NotifySchemaChange() {
	select {
	case d.notifyCh <- struct{}{}:
	default:
	}
}

func (d *SchemaBundleDistributor) RegisterSubscriber(sub BundleSubscriber) {
	if sub == nil {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.subscribers = append(d.subscribers, sub)
}

func (d *SchemaBundleDistributor) RotateSigningKey() error {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return err
	}
	d.mu.Lock()
	d.priv = priv
	d.pub = pub
	d.mu.Unlock()
	return nil
}

func (d *SchemaBundleDistributor) CurrentPublicKey() ed25519.PublicKey {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return append(ed25519.PublicKey(nil), d.pub...)
}

func (d *SchemaBundleDistributor) distribute(ctx context.Context) error {
	tables, err := d.provider(ctx)
	if err != nil {
		return err
	}
	d.mu.RLock()
	priv := d.priv
	pub := d.pub
	d.mu.RUnlock()

	bundle, err := SignBundle(priv, tables)
	if err != nil {
		return err
	}
	if bundle.Meta == nil {
		bundle.Meta = map[string]any{}
	}
	bundle.Meta["generated_at"] = time.Now().UTC().Format(time.RFC3339Nano)
	bundle.Meta["signing_key"] = base64.StdEncoding.EncodeToString(pub)

	d.mu.RLock()
	subs := append([]BundleSubscriber(nil), d.subscribers...)
	d.mu.RUnlock()
	for _, sub := range subs {
		if err := sub.OnBundle(ctx, d.CurrentPublicKey(), bundle); err != nil {
			d.log.Error("bundle subscriber error", "error", err.Error())
		}
	}
	return nil
}
