// Package mongo hosts the MongoDB client used by the session store.
package mongo

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	mongodriver "go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.mongodb.org/mongo-driver/v2/mongo/readpref"

	"goa.design/clue/health"

	"goa.design/agentrun/runtime/agent/run"
	"goa.design/agentrun/runtime/agent/session"
)

const (
	defaultSessionsCollection = "agent_sessions"
	defaultRunsCollection     = "agent_runs"
	defaultOpTimeout          = 5 * time.Second
	sessionClientName         = "session-mongo"
)

// Client exposes Mongo-backed operations for sessions and their run records.
// Sessions and runs live in separate collections so a single run can be
// polled without loading the whole session.
type Client interface {
	health.Pinger

	ReadOrCreateSession(ctx context.Context, sessionID, userID string) (*session.Session, error)
	ReplaceSession(ctx context.Context, sess *session.Session) error

	UpsertRun(ctx context.Context, rec *run.Record) error
	LoadRun(ctx context.Context, sessionID, runID string) (*run.Record, error)
	ListRunsBySession(ctx context.Context, sessionID string) ([]*run.Record, error)
}

// Options configures the Mongo session client.
type Options struct {
	Client             *mongodriver.Client
	Database           string
	SessionsCollection string
	RunsCollection     string
	Timeout            time.Duration
}

type client struct {
	mongo    *mongodriver.Client
	sessions collection
	runs     collection
	timeout  time.Duration
}

// New returns a Client backed by MongoDB.
func New(opts Options) (Client, error) {
	if opts.Client == nil {
		return nil, errors.New("mongo client is required")
	}
	if opts.Database == "" {
		return nil, errors.New("database name is required")
	}
	sessionsCollection := opts.SessionsCollection
	if sessionsCollection == "" {
		sessionsCollection = defaultSessionsCollection
	}
	runsCollection := opts.RunsCollection
	if runsCollection == "" {
		runsCollection = defaultRunsCollection
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultOpTimeout
	}
	sessColl := opts.Client.Database(opts.Database).Collection(sessionsCollection)
	runColl := opts.Client.Database(opts.Database).Collection(runsCollection)
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	sessWrapper := mongoCollection{coll: sessColl}
	runWrapper := mongoCollection{coll: runColl}
	if err := ensureIndexes(ctx, sessWrapper, runWrapper); err != nil {
		return nil, err
	}
	return newClientWithCollections(opts.Client, sessWrapper, runWrapper, timeout)
}

func (c *client) Name() string {
	return sessionClientName
}

func (c *client) Ping(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	return c.mongo.Ping(ctx, readpref.Primary())
}

func (c *client) ReadOrCreateSession(ctx context.Context, sessionID, userID string) (*session.Session, error) {
	if sessionID == "" {
		return nil, errors.New("session id is required")
	}

	fresh := session.New(sessionID, userID)
	ctxWithTimeout, cancel := c.withTimeout(ctx)
	filter := bson.M{"session_id": sessionID}
	update := bson.M{
		// Idempotent insert: ReadOrCreateSession must never modify an
		// existing session. A pure $setOnInsert update keeps it safe under
		// retries and races.
		"$setOnInsert": fromSession(fresh),
	}
	_, err := c.sessions.UpdateOne(ctxWithTimeout, filter, update, options.UpdateOne().SetUpsert(true))
	cancel()
	if err != nil {
		return nil, err
	}

	return c.loadSession(ctx, sessionID)
}

func (c *client) loadSession(ctx context.Context, sessionID string) (*session.Session, error) {
	ctxWithTimeout, cancel := c.withTimeout(ctx)
	var doc sessionDocument
	err := c.sessions.FindOne(ctxWithTimeout, bson.M{"session_id": sessionID}).Decode(&doc)
	cancel()
	if err != nil {
		if errors.Is(err, mongodriver.ErrNoDocuments) {
			return nil, session.ErrSessionNotFound
		}
		return nil, err
	}
	sess := doc.toSession()
	runs, err := c.ListRunsBySession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	sess.Runs = runs
	return sess, nil
}

func (c *client) ReplaceSession(ctx context.Context, sess *session.Session) error {
	if sess == nil || sess.ID == "" {
		return errors.New("session id is required")
	}
	doc := fromSession(sess)
	doc.UpdatedAt = time.Now().UTC()
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	filter := bson.M{"session_id": sess.ID}
	update := bson.M{"$set": doc}
	_, err := c.sessions.UpdateOne(ctx, filter, update, options.UpdateOne().SetUpsert(true))
	return err
}

func (c *client) UpsertRun(ctx context.Context, rec *run.Record) error {
	if rec == nil || rec.RunID == "" {
		return errors.New("run id is required")
	}
	if rec.SessionID == "" {
		return errors.New("session id is required")
	}
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	filter := bson.M{"session_id": rec.SessionID, "run_id": rec.RunID}
	update := bson.M{"$set": rec}
	_, err := c.runs.UpdateOne(ctx, filter, update, options.UpdateOne().SetUpsert(true))
	return err
}

func (c *client) LoadRun(ctx context.Context, sessionID, runID string) (*run.Record, error) {
	if sessionID == "" {
		return nil, errors.New("session id is required")
	}
	if runID == "" {
		return nil, errors.New("run id is required")
	}
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	filter := bson.M{"session_id": sessionID, "run_id": runID}
	var rec run.Record
	if err := c.runs.FindOne(ctx, filter).Decode(&rec); err != nil {
		if errors.Is(err, mongodriver.ErrNoDocuments) {
			return nil, session.ErrRunNotFound
		}
		return nil, err
	}
	return &rec, nil
}

func (c *client) ListRunsBySession(ctx context.Context, sessionID string) ([]*run.Record, error) {
	if sessionID == "" {
		return nil, errors.New("session id is required")
	}
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	filter := bson.M{"session_id": sessionID}
	cur, err := c.runs.Find(ctx, filter, options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}}))
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = cur.Close(ctx)
	}()
	var out []*run.Record
	for cur.Next(ctx) {
		var rec run.Record
		if err := cur.Decode(&rec); err != nil {
			return nil, err
		}
		out = append(out, &rec)
	}
	if err := cur.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *client) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	if c.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, c.timeout)
}

// sessionDocument is the stored form of a session. Runs live in their own
// collection keyed by session id.
type sessionDocument struct {
	SessionID string          `bson:"session_id"`
	UserID    string          `bson:"user_id,omitempty"`
	Type      session.Type    `bson:"session_type"`
	Data      map[string]any  `bson:"session_data,omitempty"`
	Summary   string          `bson:"summary,omitempty"`
	Metadata  map[string]any  `bson:"metadata,omitempty"`
	Metrics   session.Metrics `bson:"metrics"`
	CreatedAt time.Time       `bson:"created_at"`
	UpdatedAt time.Time       `bson:"updated_at"`
}

func fromSession(sess *session.Session) sessionDocument {
	return sessionDocument{
		SessionID: sess.ID,
		UserID:    sess.UserID,
		Type:      sess.Type,
		Data:      sess.Data,
		Summary:   sess.Summary,
		Metadata:  sess.Metadata,
		Metrics:   sess.Metrics,
		CreatedAt: sess.CreatedAt.UTC(),
		UpdatedAt: sess.UpdatedAt.UTC(),
	}
}

func (doc sessionDocument) toSession() *session.Session {
	return &session.Session{
		ID:        doc.SessionID,
		UserID:    doc.UserID,
		Type:      doc.Type,
		Data:      doc.Data,
		Summary:   doc.Summary,
		Metadata:  doc.Metadata,
		Metrics:   doc.Metrics,
		CreatedAt: doc.CreatedAt.UTC(),
		UpdatedAt: doc.UpdatedAt.UTC(),
	}
}

func ensureIndexes(ctx context.Context, sessionsColl, runsColl collection) error {
	sessionIndex := mongodriver.IndexModel{
		Keys:    bson.D{{Key: "session_id", Value: 1}},
		Options: options.Index().SetUnique(true),
	}
	if _, err := sessionsColl.Indexes().CreateOne(ctx, sessionIndex); err != nil {
		return err
	}
	runIndex := mongodriver.IndexModel{
		Keys: bson.D{
			{Key: "session_id", Value: 1},
			{Key: "run_id", Value: 1},
		},
		Options: options.Index().SetUnique(true),
	}
	if _, err := runsColl.Indexes().CreateOne(ctx, runIndex); err != nil {
		return err
	}
	runStatusIndex := mongodriver.IndexModel{
		Keys: bson.D{
			{Key: "session_id", Value: 1},
			{Key: "status", Value: 1},
		},
	}
	if _, err := runsColl.Indexes().CreateOne(ctx, runStatusIndex); err != nil {
		return err
	}
	return nil
}

func newClientWithCollections(mongoClient *mongodriver.Client, sessionsColl, runsColl collection, timeout time.Duration) (*client, error) {
	if sessionsColl == nil || runsColl == nil {
		return nil, errors.New("collections are required")
	}
	if timeout <= 0 {
		timeout = defaultOpTimeout
	}
	return &client{
		mongo:    mongoClient,
		sessions: sessionsColl,
		runs:     runsColl,
		timeout:  timeout,
	}, nil
}

type collection interface {
	FindOne(ctx context.Context, filter any, opts ...options.Lister[options.FindOneOptions]) singleResult
	Find(ctx context.Context, filter any, opts ...options.Lister[options.FindOptions]) (cursor, error)
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

type cursor interface {
	Close(ctx context.Context) error
	Decode(val any) error
	Err() error
	Next(ctx context.Context) bool
}

type mongoCollection struct {
	coll *mongodriver.Collection
}

func (c mongoCollection) FindOne(ctx context.Context, filter any, opts ...options.Lister[options.FindOneOptions]) singleResult {
	return mongoSingleResult{res: c.coll.FindOne(ctx, filter, opts...)}
}

func (c mongoCollection) Find(ctx context.Context, filter any, opts ...options.Lister[options.FindOptions]) (cursor, error) {
	cur, err := c.coll.Find(ctx, filter, opts...)
	if err != nil {
		return nil, err
	}
	return mongoCursor{cur: cur}, nil
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

type mongoCursor struct {
	cur *mongodriver.Cursor
}

func (c mongoCursor) Close(ctx context.Context) error {
	return c.cur.Close(ctx)
}

func (c mongoCursor) Decode(val any) error {
	return c.cur.Decode(val)
}

func (c mongoCursor) Err() error {
	return c.cur.Err()
}

func (c mongoCursor) Next(ctx context.Context) bool {
	return c.cur.Next(ctx)
}

type mongoIndexView struct {
	view mongodriver.IndexView
}

func (v mongoIndexView) CreateOne(ctx context.Context, model mongodriver.IndexModel,
	opts ...options.Lister[options.CreateIndexesOptions]) (string, error) {
	return v.view.CreateOne(ctx, model, opts...)
}
