// Package extension implements the Extension Supervisor (C8): install/
// start/stop lifecycle of extension containers, the subscription registry,
// and routing of inbound trigger_fire callbacks into the Run Orchestrator.
package extension

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/gofer-hq/gofer/internal/events"
	"github.com/gofer-hq/gofer/internal/eventbus"
	"github.com/gofer-hq/gofer/internal/gofererr"
	"github.com/gofer-hq/gofer/internal/models"
	"github.com/gofer-hq/gofer/internal/scheduler"
	"github.com/gofer-hq/gofer/internal/secretstore"
	"github.com/gofer-hq/gofer/internal/storage"
	"github.com/gofer-hq/gofer/internal/syncx"
)

const keySizeBytes = 32

// runningExtension is the in-memory mirror of a live extension container.
type runningExtension struct {
	registration models.ExtensionRegistration
	client       *client
	url          string
	key          string
}

// TriggerFireHandler is invoked when a subscribed extension reports a fired
// trigger; it is expected to call into the Run Orchestrator's start_run.
type TriggerFireHandler func(ctx context.Context, req TriggerFireRequest) error

type Supervisor struct {
	db         storage.Engine
	scheduler  scheduler.Engine
	secrets    secretstore.Store
	bus        *eventbus.Bus
	log        zerolog.Logger
	goferHost  string
	running    *syncx.Map[string, *runningExtension]
	onFire     TriggerFireHandler
}

func New(db storage.Engine, sched scheduler.Engine, secrets secretstore.Store, bus *eventbus.Bus, goferHost string, log zerolog.Logger) *Supervisor {
	return &Supervisor{
		db:        db,
		scheduler: sched,
		secrets:   secrets,
		bus:       bus,
		log:       log,
		goferHost: goferHost,
		running:   syncx.NewMap[string, *runningExtension](),
	}
}

// SetTriggerFireHandler wires the callback invoked for inbound trigger_fire
// RPCs; the supervisor's Server uses this as its dispatch target.
func (s *Supervisor) SetTriggerFireHandler(fn TriggerFireHandler) {
	s.onFire = fn
}

// NewServer returns the inbound gRPC endpoint extensions call back into.
func (s *Supervisor) NewServer() *Server {
	return NewServer(func(ctx context.Context, req TriggerFireRequest) error {
		if s.onFire == nil {
			return fmt.Errorf("extension: no trigger_fire handler registered")
		}
		return s.onFire(ctx, req)
	})
}

// AuthenticateByKey resolves the extension that owns a pre-shared key,
// matching the bearer an inbound trigger_fire callback carries in its
// authorization metadata. It reports ok=false for an
// unknown or disabled extension's key.
func (s *Supervisor) AuthenticateByKey(key string) (extensionID string, ok bool) {
	for id, running := range s.running.Snapshot() {
		if running.key == key {
			return id, true
		}
	}
	return "", false
}

func containerID(extensionID string) string {
	return fmt.Sprintf("extension_%s", extensionID)
}

func generateKey() (string, error) {
	b := make([]byte, keySizeBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// InstallExtension persists a new registration, mints its pre-shared key,
// starts its container, and waits for Info() to succeed before considering
// it running.
func (s *Supervisor) InstallExtension(ctx context.Context, extensionID, image string, settings map[string]string, registryAuth *models.RegistryAuth) (*models.ExtensionRegistration, error) {
	key, err := generateKey()
	if err != nil {
		return nil, gofererr.Internal("generating extension key", err)
	}

	keyID := fmt.Sprintf("extension_key_%s", extensionID)
	if err := s.secrets.Put(keyID, key, true); err != nil {
		return nil, gofererr.Internal("storing extension key", err)
	}

	reg := &models.ExtensionRegistration{
		ExtensionID:  extensionID,
		Image:        image,
		RegistryAuth: registryAuth,
		Settings:     settings,
		Status:       models.ExtensionStatusEnabled,
		State:        models.ExtensionStateProcessing,
		KeyID:        keyID,
		Created:      time.Now().UnixMilli(),
	}

	if err := s.db.InsertExtensionRegistration(ctx, reg); err != nil {
		return nil, gofererr.Wrap(err, storage.ErrNotFound, storage.ErrExists, "installing extension")
	}

	if err := s.startExtension(ctx, reg, key); err != nil {
		return reg, err
	}

	if _, err := s.bus.Publish(ctx, events.InstalledExtension{ExtensionID: extensionID, Image: image}); err != nil {
		s.log.Warn().Err(err).Str("extension_id", extensionID).Msg("could not publish InstalledExtension event")
	}

	return reg, nil
}

func (s *Supervisor) startExtension(ctx context.Context, reg *models.ExtensionRegistration, key string) error {
	envVars := map[string]string{
		"GOFER_EXTENSION_SYSTEM_ID":        reg.ExtensionID,
		"GOFER_EXTENSION_SYSTEM_LOG_LEVEL": s.log.GetLevel().String(),
		"GOFER_EXTENSION_SYSTEM_KEY":       key,
		"GOFER_EXTENSION_SYSTEM_HOST":      s.goferHost,
	}
	for k, v := range reg.Settings {
		envVars["GOFER_EXTENSION_CONFIG_"+k] = v
	}

	var registryUser, registryPass string
	if reg.RegistryAuth != nil {
		registryUser = reg.RegistryAuth.User
		registryPass = reg.RegistryAuth.Pass
	}

	startResp, err := s.scheduler.StartContainer(scheduler.StartContainerRequest{
		ID:               containerID(reg.ExtensionID),
		ImageName:        reg.Image,
		EnvVars:          envVars,
		RegistryUser:     registryUser,
		RegistryPass:     registryPass,
		EnableNetworking: true,
	})
	if err != nil {
		return gofererr.Internal("starting extension container", err)
	}
	reg.SchedulerID = startResp.SchedulerID

	cl, err := newClient(startResp.URL, key)
	if err != nil {
		return gofererr.Unavailable("connecting to extension", err)
	}

	if _, err := cl.Init(ctx, InitRequest{Config: reg.Settings}); err != nil {
		_ = cl.close()
		return gofererr.Unavailable("initializing extension", err)
	}

	if _, err := cl.Info(ctx, InfoRequest{}); err != nil {
		_ = cl.close()
		return gofererr.Unavailable("extension failed info check", err)
	}

	reg.State = models.ExtensionStateRunning
	s.running.Set(reg.ExtensionID, &runningExtension{registration: *reg, client: cl, url: startResp.URL, key: key})

	return nil
}

// UninstallExtension requests graceful shutdown and removes the registration.
func (s *Supervisor) UninstallExtension(ctx context.Context, extensionID string) error {
	if running, ok := s.running.Get(extensionID); ok {
		_, _ = running.client.Shutdown(ctx, ShutdownRequest{})
		_ = running.client.close()
		s.running.Delete(extensionID)
	}

	_ = s.scheduler.StopContainer(scheduler.StopContainerRequest{SchedulerID: containerID(extensionID), Timeout: 10 * time.Second})

	if err := s.db.DeleteExtensionRegistration(ctx, extensionID); err != nil {
		return gofererr.Wrap(err, storage.ErrNotFound, nil, "uninstalling extension")
	}

	if _, err := s.bus.Publish(ctx, events.UninstalledExtension{ExtensionID: extensionID}); err != nil {
		s.log.Warn().Err(err).Str("extension_id", extensionID).Msg("could not publish UninstalledExtension event")
	}

	return nil
}

// DisableExtension flips status and shuts the container down, leaving the
// registration and subscriptions intact for a later re-enable.
func (s *Supervisor) DisableExtension(ctx context.Context, extensionID string) error {
	reg, err := s.db.GetExtensionRegistration(ctx, extensionID)
	if err != nil {
		return gofererr.Wrap(err, storage.ErrNotFound, nil, "disabling extension")
	}
	reg.Status = models.ExtensionStatusDisabled
	if err := s.db.UpdateExtensionRegistration(ctx, reg); err != nil {
		return gofererr.Internal("updating extension registration", err)
	}

	if running, ok := s.running.Get(extensionID); ok {
		_, _ = running.client.Shutdown(ctx, ShutdownRequest{})
		_ = running.client.close()
		s.running.Delete(extensionID)
	}

	if _, err := s.bus.Publish(ctx, events.DisabledExtension{ExtensionID: extensionID}); err != nil {
		s.log.Warn().Err(err).Msg("could not publish DisabledExtension event")
	}

	return nil
}

// EnableExtension flips status back and restarts the container.
func (s *Supervisor) EnableExtension(ctx context.Context, extensionID string) error {
	reg, err := s.db.GetExtensionRegistration(ctx, extensionID)
	if err != nil {
		return gofererr.Wrap(err, storage.ErrNotFound, nil, "enabling extension")
	}
	reg.Status = models.ExtensionStatusEnabled
	if err := s.db.UpdateExtensionRegistration(ctx, reg); err != nil {
		return gofererr.Internal("updating extension registration", err)
	}

	key, err := s.secrets.Get(reg.KeyID)
	if err != nil {
		return gofererr.Internal("loading extension key", err)
	}

	if err := s.startExtension(ctx, reg, key); err != nil {
		return err
	}

	if _, err := s.bus.Publish(ctx, events.EnabledExtension{ExtensionID: extensionID}); err != nil {
		s.log.Warn().Err(err).Msg("could not publish EnabledExtension event")
	}

	return nil
}

// Subscribe registers a pipeline's interest in an extension's fired triggers.
func (s *Supervisor) Subscribe(ctx context.Context, namespaceID, pipelineID, extensionID string, settings map[string]string) (*models.ExtensionSubscription, error) {
	running, ok := s.running.Get(extensionID)
	if !ok {
		return nil, gofererr.FailedPrecondition(fmt.Sprintf("extension %q is not running", extensionID))
	}

	subscriptionID := uuid.NewString()

	if _, err := running.client.Subscribe(ctx, SubscribeRequest{
		NamespaceID:    namespaceID,
		PipelineID:     pipelineID,
		SubscriptionID: subscriptionID,
		Config:         settings,
	}); err != nil {
		return nil, gofererr.Unavailable("extension rejected subscription", err)
	}

	sub := &models.ExtensionSubscription{
		NamespaceID:    namespaceID,
		PipelineID:     pipelineID,
		ExtensionID:    extensionID,
		SubscriptionID: subscriptionID,
		Settings:       settings,
		Status:         models.SubscriptionStatusActive,
	}

	if err := s.db.InsertExtensionSubscription(ctx, sub); err != nil {
		return nil, gofererr.Wrap(err, nil, storage.ErrExists, "persisting subscription")
	}

	if _, err := s.bus.Publish(ctx, events.PipelineExtensionSubscriptionRegistered{
		NamespaceID: namespaceID, PipelineID: pipelineID, ExtensionID: extensionID, SubscriptionID: subscriptionID,
	}); err != nil {
		s.log.Warn().Err(err).Msg("could not publish subscription event")
	}

	return sub, nil
}

// Unsubscribe reverses Subscribe, tolerating a NotFound from the extension
// (it may have already forgotten the subscription across a restart).
func (s *Supervisor) Unsubscribe(ctx context.Context, namespaceID, pipelineID, extensionID, subscriptionID string) error {
	if running, ok := s.running.Get(extensionID); ok {
		_, err := running.client.Unsubscribe(ctx, UnsubscribeRequest{
			NamespaceID: namespaceID, PipelineID: pipelineID, SubscriptionID: subscriptionID,
		})
		if err != nil {
			s.log.Debug().Err(err).Msg("extension did not acknowledge unsubscribe; proceeding")
		}
	}

	if err := s.db.DeleteExtensionSubscription(ctx, namespaceID, pipelineID, extensionID, subscriptionID); err != nil {
		return gofererr.Wrap(err, storage.ErrNotFound, nil, "removing subscription")
	}

	if _, err := s.bus.Publish(ctx, events.PipelineExtensionSubscriptionUnregistered{
		NamespaceID: namespaceID, PipelineID: pipelineID, ExtensionID: extensionID, SubscriptionID: subscriptionID,
	}); err != nil {
		s.log.Warn().Err(err).Msg("could not publish unsubscription event")
	}

	return nil
}

// ExternalEvent forwards an inbound /api/external/{extension_id} request to
// the extension's external_event RPC.
func (s *Supervisor) ExternalEvent(ctx context.Context, extensionID string, headers map[string][]string, body []byte) error {
	running, ok := s.running.Get(extensionID)
	if !ok {
		return gofererr.NotFound(fmt.Sprintf("extension %q is not running", extensionID))
	}

	if _, err := running.client.ExternalEvent(ctx, ExternalEventRequest{Headers: headers, Body: body}); err != nil {
		return gofererr.Internal("forwarding external event", err)
	}

	return nil
}

