// Package mongo provides a MongoDB-backed implementation of the approval
// store. Approval records are the durable bridge between a paused run and its
// continuation, so deployments that resume runs from another process keep
// them in Mongo alongside the session store.
package mongo

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/v2/bson"
	mongodriver "go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"goa.design/agentrun/runtime/agent"
	"goa.design/agentrun/runtime/agent/approval"
	"goa.design/agentrun/runtime/agent/run"
)

const (
	defaultCollection = "agent_approvals"
	defaultOpTimeout  = 5 * time.Second
)

// Options configures the Mongo approval store.
type Options struct {
	Client     *mongodriver.Client
	Database   string
	Collection string
	Timeout    time.Duration
}

// Store implements approval.Store on a Mongo collection.
type Store struct {
	approvals collection
	timeout   time.Duration
}

// New returns a Store backed by MongoDB.
func New(opts Options) (*Store, error) {
	if opts.Client == nil {
		return nil, errors.New("mongo client is required")
	}
	if opts.Database == "" {
		return nil, errors.New("database name is required")
	}
	name := opts.Collection
	if name == "" {
		name = defaultCollection
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultOpTimeout
	}
	coll := mongoCollection{coll: opts.Client.Database(opts.Database).Collection(name)}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := ensureIndexes(ctx, coll); err != nil {
		return nil, err
	}
	return newStoreWithCollection(coll, timeout)
}

// CreateFromPause writes a pending approval record for the paused run.
func (s *Store) CreateFromPause(ctx context.Context, rec *run.Record, agentID agent.Ident, agentName, userID string) (*approval.Record, error) {
	if rec == nil || rec.RunID == "" {
		return nil, errors.New("run record is required")
	}
	if _, err := s.GetPendingByRun(ctx, rec.RunID); err == nil {
		return nil, approval.ErrPendingApprovalExists
	} else if !errors.Is(err, approval.ErrApprovalNotFound) {
		return nil, err
	}

	now := time.Now().UTC()
	ap := &approval.Record{
		ApprovalID:   uuid.NewString(),
		RunID:        rec.RunID,
		SessionID:    rec.SessionID,
		AgentID:      agentID,
		AgentName:    agentName,
		UserID:       userID,
		Status:       approval.StatusPending,
		PauseType:    approval.PauseTypeToolConfirmation,
		ApprovalType: approval.ApprovalTypeHuman,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	if _, err := s.approvals.InsertOne(ctx, ap); err != nil {
		return nil, err
	}
	out := *ap
	return &out, nil
}

// Get loads an approval record by id.
func (s *Store) Get(ctx context.Context, approvalID string) (*approval.Record, error) {
	if approvalID == "" {
		return nil, errors.New("approval id is required")
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	var rec approval.Record
	if err := s.approvals.FindOne(ctx, bson.M{"approval_id": approvalID}).Decode(&rec); err != nil {
		if errors.Is(err, mongodriver.ErrNoDocuments) {
			return nil, approval.ErrApprovalNotFound
		}
		return nil, err
	}
	return &rec, nil
}

// GetPendingByRun loads the pending approval record for the run.
func (s *Store) GetPendingByRun(ctx context.Context, runID string) (*approval.Record, error) {
	if runID == "" {
		return nil, errors.New("run id is required")
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	filter := bson.M{"run_id": runID, "status": approval.StatusPending}
	var rec approval.Record
	if err := s.approvals.FindOne(ctx, filter).Decode(&rec); err != nil {
		if errors.Is(err, mongodriver.ErrNoDocuments) {
			return nil, approval.ErrApprovalNotFound
		}
		return nil, err
	}
	return &rec, nil
}

// Resolve transitions the record out of pending. The status filter makes the
// transition atomic: a concurrent resolution loses and observes
// ErrApprovalResolved.
func (s *Store) Resolve(ctx context.Context, approvalID string, status approval.Status) (*approval.Record, error) {
	if approvalID == "" {
		return nil, errors.New("approval id is required")
	}
	if status == approval.StatusPending {
		return nil, errors.New("cannot resolve to pending")
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	filter := bson.M{"approval_id": approvalID, "status": approval.StatusPending}
	update := bson.M{"$set": bson.M{
		"status":     status,
		"updated_at": time.Now().UTC(),
	}}
	res, err := s.approvals.UpdateOne(ctx, filter, update)
	if err != nil {
		return nil, err
	}
	if res.MatchedCount == 0 {
		// Distinguish a missing record from an already resolved one.
		if _, err := s.Get(ctx, approvalID); err != nil {
			return nil, err
		}
		return nil, approval.ErrApprovalResolved
	}
	return s.Get(ctx, approvalID)
}

func (s *Store) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	if s.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, s.timeout)
}

func ensureIndexes(ctx context.Context, coll collection) error {
	idIndex := mongodriver.IndexModel{
		Keys:    bson.D{{Key: "approval_id", Value: 1}},
		Options: options.Index().SetUnique(true),
	}
	if _, err := coll.Indexes().CreateOne(ctx, idIndex); err != nil {
		return err
	}
	runStatusIndex := mongodriver.IndexModel{
		Keys: bson.D{
			{Key: "run_id", Value: 1},
			{Key: "status", Value: 1},
		},
	}
	if _, err := coll.Indexes().CreateOne(ctx, runStatusIndex); err != nil {
		return err
	}
	return nil
}

func newStoreWithCollection(coll collection, timeout time.Duration) (*Store, error) {
	if coll == nil {
		return nil, errors.New("collection is required")
	}
	if timeout <= 0 {
		timeout = defaultOpTimeout
	}
	return &Store{approvals: coll, timeout: timeout}, nil
}

type collection interface {
	FindOne(ctx context.Context, filter any, opts ...options.Lister[options.FindOneOptions]) singleResult
	InsertOne(ctx context.Context, doc any, opts ...options.Lister[options.InsertOneOptions]) (*mongodriver.InsertOneResult, error)
	UpdateOne(ctx context.Context, filter any, update any,
		opts ...options.Lister[options.UpdateOneOptions]) (*mongodriver.UpdateResult, error)
	Indexes() indexView
}

type indexView interface {
	CreateOne(ctx context.Context, model mongodriver.IndexModel,
		opts ...options.Lister[options.CreateIndexesOptions]) (string, error)
}

type singleResult interface {
	Decode(val any) error
}

type mongoCollection struct {
	coll *mongodriver.Collection
}

func (c mongoCollection) FindOne(ctx context.Context, filter any, opts ...options.Lister[options.FindOneOptions]) singleResult {
	return mongoSingleResult{res: c.coll.FindOne(ctx, filter, opts...)}
}

func (c mongoCollection) InsertOne(ctx context.Context, doc any, opts ...options.Lister[options.InsertOneOptions]) (*mongodriver.InsertOneResult, error) {
	return c.coll.InsertOne(ctx, doc, opts...)
}

func (c mongoCollection) UpdateOne(ctx context.Context, filter any, update any,
	opts ...options.Lister[options.UpdateOneOptions]) (*mongodriver.UpdateResult, error) {
	return c.coll.UpdateOne(ctx, filter, update, opts...)
}

func (c mongoCollection) Indexes() indexView {
	return mongoIndexView{view: c.coll.Indexes()}
}

type mongoSingleResult struct {
	res *mongodriver.SingleResult
}

func (r mongoSingleResult) Decode(val any) error {
	return r.res.Decode(val)
}

type mongoIndexView struct {
	view mongodriver.IndexView
}

func (v mongoIndexView) CreateOne(ctx context.Context, model mongodriver.IndexModel,
	opts ...options.Lister[options.CreateIndexesOptions]) (string, error) {
	return v.view.CreateOne(ctx, model, opts...)
}
