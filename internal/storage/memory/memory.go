// Package memory implements storage.Engine entirely in process memory. It
// backs engine-level unit tests so they can exercise real orchestration
// logic without a sqlite file, alongside the production sqlite
// implementation.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/gofer-hq/gofer/internal/events"
	"github.com/gofer-hq/gofer/internal/models"
	"github.com/gofer-hq/gofer/internal/storage"
)

type runKey struct {
	ns, pl string
	run    int64
}

type taskKey struct {
	ns, pl string
	run    int64
	task   string
}

type Store struct {
	mu   sync.Mutex
	txMu sync.Mutex // serializes Transaction callbacks against each other

	namespaces map[string]models.Namespace
	pipelines  map[string]models.PipelineMetadata
	configs    map[string]map[int64]models.PipelineConfig
	runs       map[runKey]models.Run
	tasks      map[taskKey]models.TaskExecution

	globalSecrets   map[string]models.GlobalSecret
	pipelineSecrets map[string]models.PipelineSecret
	objectKeys      map[string]models.ObjectKey

	extensions    map[string]models.ExtensionRegistration
	subscriptions map[string]models.ExtensionSubscription
	tokens        map[string]models.Token

	eventsByID []events.Event
	nextEvent  int64

	nextIDCounters map[string]int64

	sysParams models.SystemParameters
}

func New() *Store {
	return &Store{
		namespaces:      map[string]models.Namespace{},
		pipelines:       map[string]models.PipelineMetadata{},
		configs:         map[string]map[int64]models.PipelineConfig{},
		runs:            map[runKey]models.Run{},
		tasks:           map[taskKey]models.TaskExecution{},
		globalSecrets:   map[string]models.GlobalSecret{},
		pipelineSecrets: map[string]models.PipelineSecret{},
		objectKeys:      map[string]models.ObjectKey{},
		extensions:      map[string]models.ExtensionRegistration{},
		subscriptions:   map[string]models.ExtensionSubscription{},
		tokens:          map[string]models.Token{},
		nextIDCounters:  map[string]int64{},
	}
}

func (s *Store) Close() error { return nil }

// Transaction runs fn against the store itself, holding txMu so that
// transactions are serialized against each other. Each method still takes
// mu on its own, so calls made outside a transaction may interleave with
// fn's, and nothing is rolled back when fn returns an error.
func (s *Store) Transaction(ctx context.Context, fn func(tx storage.Engine) error) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()
	return fn(s)
}

func (s *Store) NextID(ctx context.Context, namespaceID, pipelineID, kind string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := namespaceID + "/" + pipelineID + "/" + kind
	s.nextIDCounters[key]++
	return s.nextIDCounters[key], nil
}

func (s *Store) InsertNamespace(ctx context.Context, ns *models.Namespace) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.namespaces[ns.ID]; exists {
		return storage.ErrExists
	}
	s.namespaces[ns.ID] = *ns
	return nil
}

func (s *Store) GetNamespace(ctx context.Context, id string) (*models.Namespace, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ns, ok := s.namespaces[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return &ns, nil
}

func (s *Store) ListNamespaces(ctx context.Context, opts storage.ListOptions) ([]models.Namespace, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.Namespace, 0, len(s.namespaces))
	for _, ns := range s.namespaces {
		out = append(out, ns)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return paginate(out, opts), nil
}

func (s *Store) UpdateNamespace(ctx context.Context, ns *models.Namespace) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.namespaces[ns.ID]; !ok {
		return storage.ErrNotFound
	}
	s.namespaces[ns.ID] = *ns
	return nil
}

func (s *Store) DeleteNamespace(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.namespaces[id]; !ok {
		return storage.ErrNotFound
	}
	delete(s.namespaces, id)
	return nil
}

func (s *Store) InsertPipelineMetadata(ctx context.Context, pm *models.PipelineMetadata) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := pm.NamespaceID + "/" + pm.PipelineID
	if _, exists := s.pipelines[key]; exists {
		return storage.ErrExists
	}
	s.pipelines[key] = *pm
	return nil
}

func (s *Store) GetPipelineMetadata(ctx context.Context, namespaceID, pipelineID string) (*models.PipelineMetadata, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	pm, ok := s.pipelines[namespaceID+"/"+pipelineID]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return &pm, nil
}

func (s *Store) ListPipelineMetadata(ctx context.Context, namespaceID string, opts storage.ListOptions) ([]models.PipelineMetadata, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.PipelineMetadata, 0)
	for _, pm := range s.pipelines {
		if pm.NamespaceID == namespaceID {
			out = append(out, pm)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PipelineID < out[j].PipelineID })
	return paginate(out, opts), nil
}

func (s *Store) UpdatePipelineMetadata(ctx context.Context, pm *models.PipelineMetadata) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := pm.NamespaceID + "/" + pm.PipelineID
	if _, ok := s.pipelines[key]; !ok {
		return storage.ErrNotFound
	}
	s.pipelines[key] = *pm
	return nil
}

func (s *Store) DeletePipelineMetadata(ctx context.Context, namespaceID, pipelineID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := namespaceID + "/" + pipelineID
	if _, ok := s.pipelines[key]; !ok {
		return storage.ErrNotFound
	}
	delete(s.pipelines, key)
	return nil
}

func (s *Store) InsertPipelineConfig(ctx context.Context, pc *models.PipelineConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := pc.NamespaceID + "/" + pc.PipelineID
	if s.configs[key] == nil {
		s.configs[key] = map[int64]models.PipelineConfig{}
	}
	if _, exists := s.configs[key][pc.Version]; exists {
		return storage.ErrExists
	}
	s.configs[key][pc.Version] = *pc
	return nil
}

func (s *Store) GetPipelineConfig(ctx context.Context, namespaceID, pipelineID string, version int64) (*models.PipelineConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	versions := s.configs[namespaceID+"/"+pipelineID]
	pc, ok := versions[version]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return &pc, nil
}

func (s *Store) GetLivePipelineConfig(ctx context.Context, namespaceID, pipelineID string) (*models.PipelineConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, pc := range s.configs[namespaceID+"/"+pipelineID] {
		if pc.State == models.ConfigStateLive {
			cp := pc
			return &cp, nil
		}
	}
	return nil, storage.ErrNotFound
}

func (s *Store) ListPipelineConfigs(ctx context.Context, namespaceID, pipelineID string, opts storage.ListOptions) ([]models.PipelineConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.PipelineConfig, 0)
	for _, pc := range s.configs[namespaceID+"/"+pipelineID] {
		out = append(out, pc)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Version < out[j].Version })
	return paginate(out, opts), nil
}

func (s *Store) UpdatePipelineConfig(ctx context.Context, pc *models.PipelineConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := pc.NamespaceID + "/" + pc.PipelineID
	if s.configs[key] == nil {
		return storage.ErrNotFound
	}
	if _, ok := s.configs[key][pc.Version]; !ok {
		return storage.ErrNotFound
	}
	s.configs[key][pc.Version] = *pc
	return nil
}

func (s *Store) DeletePipelineConfig(ctx context.Context, namespaceID, pipelineID string, version int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := namespaceID + "/" + pipelineID
	if s.configs[key] == nil {
		return storage.ErrNotFound
	}
	if _, ok := s.configs[key][version]; !ok {
		return storage.ErrNotFound
	}
	delete(s.configs[key], version)
	return nil
}

func (s *Store) InsertRun(ctx context.Context, r *models.Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := runKey{r.NamespaceID, r.PipelineID, r.RunID}
	if _, exists := s.runs[key]; exists {
		return storage.ErrExists
	}
	s.runs[key] = *r
	return nil
}

func (s *Store) GetRun(ctx context.Context, namespaceID, pipelineID string, runID int64) (*models.Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.runs[runKey{namespaceID, pipelineID, runID}]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return &r, nil
}

func (s *Store) ListRuns(ctx context.Context, namespaceID, pipelineID string, opts storage.ListOptions) ([]models.Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.Run, 0)
	for k, r := range s.runs {
		if k.ns == namespaceID && k.pl == pipelineID {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RunID < out[j].RunID })
	return paginate(out, opts), nil
}

func (s *Store) UpdateRun(ctx context.Context, r *models.Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := runKey{r.NamespaceID, r.PipelineID, r.RunID}
	if _, ok := s.runs[key]; !ok {
		return storage.ErrNotFound
	}
	s.runs[key] = *r
	return nil
}

func (s *Store) CountActiveRuns(ctx context.Context, namespaceID, pipelineID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for k, r := range s.runs {
		if k.ns == namespaceID && k.pl == pipelineID && r.State != models.RunStateComplete {
			n++
		}
	}
	return n, nil
}

func (s *Store) InsertTaskExecution(ctx context.Context, te *models.TaskExecution) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := taskKey{te.NamespaceID, te.PipelineID, te.RunID, te.TaskID}
	if _, exists := s.tasks[key]; exists {
		return storage.ErrExists
	}
	s.tasks[key] = *te
	return nil
}

func (s *Store) GetTaskExecution(ctx context.Context, namespaceID, pipelineID string, runID int64, taskID string) (*models.TaskExecution, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	te, ok := s.tasks[taskKey{namespaceID, pipelineID, runID, taskID}]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return &te, nil
}

func (s *Store) ListTaskExecutions(ctx context.Context, namespaceID, pipelineID string, runID int64) ([]models.TaskExecution, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.TaskExecution, 0)
	for k, te := range s.tasks {
		if k.ns == namespaceID && k.pl == pipelineID && k.run == runID {
			out = append(out, te)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TaskID < out[j].TaskID })
	return out, nil
}

func (s *Store) UpdateTaskExecution(ctx context.Context, te *models.TaskExecution) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := taskKey{te.NamespaceID, te.PipelineID, te.RunID, te.TaskID}
	if _, ok := s.tasks[key]; !ok {
		return storage.ErrNotFound
	}
	s.tasks[key] = *te
	return nil
}

func (s *Store) InsertGlobalSecret(ctx context.Context, sec *models.GlobalSecret) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.globalSecrets[sec.Key]; exists {
		return storage.ErrExists
	}
	s.globalSecrets[sec.Key] = *sec
	return nil
}

func (s *Store) GetGlobalSecret(ctx context.Context, key string) (*models.GlobalSecret, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sec, ok := s.globalSecrets[key]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return &sec, nil
}

func (s *Store) ListGlobalSecrets(ctx context.Context, opts storage.ListOptions) ([]models.GlobalSecret, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.GlobalSecret, 0, len(s.globalSecrets))
	for _, sec := range s.globalSecrets {
		out = append(out, sec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return paginate(out, opts), nil
}

func (s *Store) DeleteGlobalSecret(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.globalSecrets[key]; !ok {
		return storage.ErrNotFound
	}
	delete(s.globalSecrets, key)
	return nil
}

func (s *Store) InsertPipelineSecret(ctx context.Context, sec *models.PipelineSecret) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := sec.NamespaceID + "/" + sec.PipelineID + "/" + sec.Key
	if _, exists := s.pipelineSecrets[key]; exists {
		return storage.ErrExists
	}
	s.pipelineSecrets[key] = *sec
	return nil
}

func (s *Store) GetPipelineSecret(ctx context.Context, namespaceID, pipelineID, key string) (*models.PipelineSecret, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sec, ok := s.pipelineSecrets[namespaceID+"/"+pipelineID+"/"+key]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return &sec, nil
}

func (s *Store) ListPipelineSecrets(ctx context.Context, namespaceID, pipelineID string, opts storage.ListOptions) ([]models.PipelineSecret, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.PipelineSecret, 0)
	for _, sec := range s.pipelineSecrets {
		if sec.NamespaceID == namespaceID && sec.PipelineID == pipelineID {
			out = append(out, sec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return paginate(out, opts), nil
}

func (s *Store) DeletePipelineSecret(ctx context.Context, namespaceID, pipelineID, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := namespaceID + "/" + pipelineID + "/" + key
	if _, ok := s.pipelineSecrets[k]; !ok {
		return storage.ErrNotFound
	}
	delete(s.pipelineSecrets, k)
	return nil
}

func (s *Store) InsertObjectKey(ctx context.Context, o *models.ObjectKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := objectKeyKey(o.NamespaceID, o.PipelineID, o.Key)
	s.objectKeys[k] = *o
	return nil
}

func (s *Store) ListObjectKeys(ctx context.Context, namespaceID, pipelineID string, scope models.ObjectScope, runID *int64) ([]models.ObjectKey, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.ObjectKey, 0)
	for _, o := range s.objectKeys {
		if o.NamespaceID != namespaceID || o.PipelineID != pipelineID || o.Scope != scope {
			continue
		}
		if scope == models.ObjectScopeRun {
			if runID == nil || o.RunID == nil || *o.RunID != *runID {
				continue
			}
		}
		out = append(out, o)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Created < out[j].Created })
	return out, nil
}

func (s *Store) DeleteObjectKey(ctx context.Context, namespaceID, pipelineID, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := objectKeyKey(namespaceID, pipelineID, key)
	if _, ok := s.objectKeys[k]; !ok {
		return storage.ErrNotFound
	}
	delete(s.objectKeys, k)
	return nil
}

func objectKeyKey(namespaceID, pipelineID, key string) string {
	return namespaceID + "/" + pipelineID + "/" + key
}

func (s *Store) InsertExtensionRegistration(ctx context.Context, e *models.ExtensionRegistration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.extensions[e.ExtensionID]; exists {
		return storage.ErrExists
	}
	s.extensions[e.ExtensionID] = *e
	return nil
}

func (s *Store) GetExtensionRegistration(ctx context.Context, extensionID string) (*models.ExtensionRegistration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.extensions[extensionID]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return &e, nil
}

func (s *Store) ListExtensionRegistrations(ctx context.Context, opts storage.ListOptions) ([]models.ExtensionRegistration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.ExtensionRegistration, 0, len(s.extensions))
	for _, e := range s.extensions {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ExtensionID < out[j].ExtensionID })
	return paginate(out, opts), nil
}

func (s *Store) UpdateExtensionRegistration(ctx context.Context, e *models.ExtensionRegistration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.extensions[e.ExtensionID]; !ok {
		return storage.ErrNotFound
	}
	s.extensions[e.ExtensionID] = *e
	return nil
}

func (s *Store) DeleteExtensionRegistration(ctx context.Context, extensionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.extensions[extensionID]; !ok {
		return storage.ErrNotFound
	}
	delete(s.extensions, extensionID)
	return nil
}

func subKey(namespaceID, pipelineID, extensionID, subscriptionID string) string {
	return namespaceID + "/" + pipelineID + "/" + extensionID + "/" + subscriptionID
}

func (s *Store) InsertExtensionSubscription(ctx context.Context, sub *models.ExtensionSubscription) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := subKey(sub.NamespaceID, sub.PipelineID, sub.ExtensionID, sub.SubscriptionID)
	if _, exists := s.subscriptions[k]; exists {
		return storage.ErrExists
	}
	s.subscriptions[k] = *sub
	return nil
}

func (s *Store) GetExtensionSubscription(ctx context.Context, namespaceID, pipelineID, extensionID, subscriptionID string) (*models.ExtensionSubscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sub, ok := s.subscriptions[subKey(namespaceID, pipelineID, extensionID, subscriptionID)]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return &sub, nil
}

func (s *Store) ListExtensionSubscriptions(ctx context.Context, extensionID string) ([]models.ExtensionSubscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.ExtensionSubscription, 0)
	for _, sub := range s.subscriptions {
		if sub.ExtensionID == extensionID {
			out = append(out, sub)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SubscriptionID < out[j].SubscriptionID })
	return out, nil
}

func (s *Store) UpdateExtensionSubscription(ctx context.Context, sub *models.ExtensionSubscription) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := subKey(sub.NamespaceID, sub.PipelineID, sub.ExtensionID, sub.SubscriptionID)
	if _, ok := s.subscriptions[k]; !ok {
		return storage.ErrNotFound
	}
	s.subscriptions[k] = *sub
	return nil
}

func (s *Store) DeleteExtensionSubscription(ctx context.Context, namespaceID, pipelineID, extensionID, subscriptionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := subKey(namespaceID, pipelineID, extensionID, subscriptionID)
	if _, ok := s.subscriptions[k]; !ok {
		return storage.ErrNotFound
	}
	delete(s.subscriptions, k)
	return nil
}

func (s *Store) InsertToken(ctx context.Context, t *models.Token) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.tokens[t.Hash]; exists {
		return storage.ErrExists
	}
	s.tokens[t.Hash] = *t
	return nil
}

func (s *Store) GetToken(ctx context.Context, hash string) (*models.Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tokens[hash]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return &t, nil
}

func (s *Store) DeleteToken(ctx context.Context, hash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tokens[hash]; !ok {
		return storage.ErrNotFound
	}
	delete(s.tokens, hash)
	return nil
}

func (s *Store) InsertEvent(ctx context.Context, e events.Event) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextEvent++
	e.ID = s.nextEvent
	s.eventsByID = append(s.eventsByID, e)
	return e.ID, nil
}

func (s *Store) GetEvent(ctx context.Context, id int64) (events.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.eventsByID {
		if e.ID == id {
			return e, nil
		}
	}
	return events.Event{}, storage.ErrNotFound
}

func (s *Store) ListEvents(ctx context.Context, offset, limit int, reverse bool) ([]events.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ordered := make([]events.Event, len(s.eventsByID))
	copy(ordered, s.eventsByID)
	if reverse {
		sort.Slice(ordered, func(i, j int) bool { return ordered[i].ID > ordered[j].ID })
	}

	if offset >= len(ordered) {
		return nil, nil
	}
	end := offset + limit
	if end > len(ordered) {
		end = len(ordered)
	}
	return ordered[offset:end], nil
}

func (s *Store) PruneEvents(ctx context.Context, olderThanMillis int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.eventsByID[:0]
	var pruned int64
	for _, e := range s.eventsByID {
		if e.Emitted < olderThanMillis {
			pruned++
			continue
		}
		kept = append(kept, e)
	}
	s.eventsByID = kept
	return pruned, nil
}

func (s *Store) GetSystemParameters(ctx context.Context) (*models.SystemParameters, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := s.sysParams
	return &p, nil
}

func (s *Store) UpdateSystemParameters(ctx context.Context, p *models.SystemParameters) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sysParams = *p
	return nil
}

func paginate[T any](items []T, opts storage.ListOptions) []T {
	limit := storage.ClampLimit(opts.Limit)
	offset := opts.Offset
	if offset < 0 {
		offset = 0
	}
	if offset >= len(items) {
		return []T{}
	}
	end := offset + limit
	if end > len(items) {
		end = len(items)
	}
	return items[offset:end]
}
