package engine

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/atomic"
	"go.uber.org/zap"

	"ShopScout/server/internal/config"
	"ShopScout/server/internal/detector"
	"ShopScout/server/internal/interfaces"
	"ShopScout/server/internal/interview"
	"ShopScout/server/internal/rag"
	"ShopScout/server/internal/responders"
	"ShopScout/server/internal/storage"
)

// turnState tracks where a turn is in its lifecycle, for logging.
type turnState string

const (
	stateReceived    turnState = "RECEIVED"
	stateClassifying turnState = "CLASSIFYING"
	stateMemoryCheck turnState = "MEMORY_CHECK"
	stateRetrieving  turnState = "RETRIEVING"
	stateDispatching turnState = "DISPATCHING"
	stateCompleted   turnState = "COMPLETED"
	stateFailed      turnState = "FAILED"
)

const (
	lockRetryInterval = 50 * time.Millisecond
	indexTimeout      = 30 * time.Second
)

// TurnRequest is one inbound user message.
type TurnRequest struct {
	SessionID   string
	UserID      string
	Query       string
	Attachments []interfaces.Attachment
	// Shopping toggles shopping mode when non-nil: true starts a fresh
	// interview, false returns the session to general mode.
	Shopping *bool
	Model    string
}

// Coordinator drives a turn through classification, the memory decision,
// retrieval, and dispatch, then persists the results. One turn per session
// runs at a time; concurrent requests for the same session queue on the
// session lock.
type Coordinator struct {
	cfg         *config.Config
	store       interfaces.SessionStore
	cache       *storage.RedisStore
	classifier  *detector.Classifier
	detector    *detector.Detector
	retrieval   *rag.RetrievalEngine
	dispatcher  *responders.Dispatcher
	interviewer *interview.Engine
	index       *rag.TurnIndex
	summarizer  interfaces.Summarizer
	log         *zap.Logger

	turnsTotal  atomic.Int64
	turnsFailed atomic.Int64

	// localLocks serializes sessions when redis is unavailable.
	localLocks sync.Map
}

func NewCoordinator(
	cfg *config.Config,
	store interfaces.SessionStore,
	cache *storage.RedisStore,
	classifier *detector.Classifier,
	det *detector.Detector,
	retrieval *rag.RetrievalEngine,
	dispatcher *responders.Dispatcher,
	interviewer *interview.Engine,
	index *rag.TurnIndex,
	summarizer interfaces.Summarizer,
	log *zap.Logger,
) *Coordinator {
	return &Coordinator{
		cfg:         cfg,
		store:       store,
		cache:       cache,
		classifier:  classifier,
		detector:    det,
		retrieval:   retrieval,
		dispatcher:  dispatcher,
		interviewer: interviewer,
		index:       index,
		summarizer:  summarizer,
		log:         log,
	}
}

// HandleTurn starts processing and returns the turn's event stream. The
// stream closes after the terminal event.
func (c *Coordinator) HandleTurn(ctx context.Context, req TurnRequest) *Stream {
	stream := NewStream(64)
	go c.runTurn(ctx, req, stream)
	return stream
}

// Stats returns processed and failed turn counts since start.
func (c *Coordinator) Stats() (total, failed int64) {
	return c.turnsTotal.Load(), c.turnsFailed.Load()
}

func (c *Coordinator) runTurn(ctx context.Context, req TurnRequest, stream *Stream) {
	defer stream.Close()
	c.turnsTotal.Inc()

	log := c.log.With(
		zap.String("session_id", req.SessionID),
		zap.String("user_id", req.UserID))

	unlock, err := c.lockSession(ctx, req.SessionID)
	if err != nil {
		c.fail(stream, log, "session is busy, try again")
		return
	}
	defer unlock()

	c.transition(log, stateReceived)

	session, err := c.store.Load(ctx, req.SessionID, req.UserID)
	if err != nil {
		log.Error("session load failed", zap.Error(err))
		c.fail(stream, log, "failed to load session")
		return
	}

	opening := c.applyModeToggle(session, req.Shopping)

	c.transition(log, stateClassifying)
	intent, entity, err := c.classifier.Classify(req.Query, req.Attachments)
	if err != nil {
		log.Warn("classification failed, treating query as general", zap.Error(err))
		intent = interfaces.IntentGeneral
		entity = ""
	}

	c.transition(log, stateMemoryCheck)
	recent := c.recentTurns(ctx, session.ID)
	decision := c.detector.Decide(ctx, req.Query, intent, session, recent)

	var memory interfaces.MemoryContext
	if decision.NeedMemory {
		c.transition(log, stateRetrieving)
		memory = c.retrieval.BuildContext(ctx, session, req.Query, decision)
	}

	c.transition(log, stateDispatching)
	in := &responders.Input{
		Query:            req.Query,
		EffectiveQuery:   decision.ExpandedQuery,
		Session:          session,
		Decision:         decision,
		Memory:           memory,
		Attachments:      req.Attachments,
		Model:            req.Model,
		InterviewOpening: opening,
	}
	out, err := c.dispatcher.Dispatch(ctx, in, stream.Emit)
	if err != nil {
		c.transition(log, stateFailed)
		c.turnsFailed.Inc()
		log.Error("dispatch failed", zap.Error(err))
		stream.Emit(interfaces.ErrorEvent("failed to answer: " + err.Error()))
		return
	}

	c.complete(ctx, log, session, req, decision, entity, out, stream)
	c.transition(log, stateCompleted)
}

// applyModeToggle handles the shopping flag. Toggle-on always restarts the
// interview at round one; the return marks the opening turn so its answer is
// the first question. Toggle-off drops any interview state.
func (c *Coordinator) applyModeToggle(session *interfaces.Session, shopping *bool) bool {
	if shopping == nil {
		return false
	}
	if *shopping {
		c.interviewer.Start(session)
		return true
	}
	session.Mode = interfaces.ModeGeneral
	c.interviewer.Reset(session)
	return false
}

// complete persists the turn pair, updates session state, and emits the
// terminal final and done events. Persistence failures degrade the turn to
// best effort rather than failing an answer already streamed.
func (c *Coordinator) complete(
	ctx context.Context,
	log *zap.Logger,
	session *interfaces.Session,
	req TurnRequest,
	decision interfaces.MemoryDecision,
	entity string,
	out *responders.Output,
	stream *Stream,
) {
	now := time.Now().Unix()
	userTurn := interfaces.Turn{
		ID:          uuid.NewString(),
		SessionID:   session.ID,
		Role:        interfaces.RoleUser,
		Text:        req.Query,
		Attachments: req.Attachments,
		Timestamp:   now,
	}
	assistantTurn := interfaces.Turn{
		ID:           uuid.NewString(),
		SessionID:    session.ID,
		Role:         interfaces.RoleAssistant,
		Text:         out.Text,
		Citations:    out.Citations,
		ProductCards: out.ProductCards,
		Timestamp:    now,
	}

	for _, turn := range []interfaces.Turn{userTurn, assistantTurn} {
		if err := c.store.AppendTurn(ctx, turn); err != nil {
			log.Warn("turn persistence failed", zap.Error(err))
		}
		if c.cache != nil {
			if err := c.cache.PushTurn(ctx, turn); err != nil {
				log.Warn("turn cache push failed", zap.Error(err))
			}
		}
	}

	if c.index != nil && c.index.Available() {
		go c.indexTurn(session.UserID, userTurn)
	}

	session.LastIntent = decision.Intent
	if entity != "" {
		session.LastProductEntity = entity
	}
	session.TurnCount += 2
	if err := c.store.Save(ctx, session); err != nil {
		log.Warn("session save failed", zap.Error(err))
	}

	stream.Emit(interfaces.AgentEvent{
		Type:         interfaces.EventFinal,
		Text:         out.Text,
		Options:      out.Options,
		Citations:    out.Citations,
		ProductCards: out.ProductCards,
		Metadata: map[string]interface{}{
			"intent": string(decision.Intent),
			"reason": string(decision.Reason),
			"mode":   string(session.Mode),
		},
	})
	stream.Emit(interfaces.DoneEvent())

	c.maybeSummarize(session)
}

// indexTurn embeds and stores one turn for later similarity search.
func (c *Coordinator) indexTurn(userID string, turn interfaces.Turn) {
	ctx, cancel := context.WithTimeout(context.Background(), indexTimeout)
	defer cancel()
	if err := c.index.StoreTurn(ctx, userID, turn); err != nil {
		c.log.Warn("turn indexing failed",
			zap.String("turn_id", turn.ID), zap.Error(err))
	}
}

// maybeSummarize kicks off background summarization every N turn-pairs.
func (c *Coordinator) maybeSummarize(session *interfaces.Session) {
	if c.summarizer == nil {
		return
	}
	interval := c.cfg.Memory.SummaryIntervalPairs
	if interval <= 0 {
		return
	}
	pairs := session.TurnCount / 2
	if pairs > 0 && pairs%interval == 0 {
		go c.summarizer.Summarize(session.ID)
	}
}

func (c *Coordinator) fail(stream *Stream, log *zap.Logger, message string) {
	c.turnsFailed.Inc()
	c.transition(log, stateFailed)
	stream.Emit(interfaces.ErrorEvent(message))
}

func (c *Coordinator) transition(log *zap.Logger, state turnState) {
	log.Debug("turn state", zap.String("state", string(state)))
}

// recentTurns reads the short conversation window, preferring the cache.
func (c *Coordinator) recentTurns(ctx context.Context, sessionID string) []interfaces.Turn {
	limit := c.cfg.Memory.MaxContextTurns
	if w := c.cfg.Memory.SimilarityWindow * 2; w > limit {
		limit = w
	}

	if c.cache != nil {
		turns, err := c.cache.RecentTurns(ctx, sessionID, limit)
		if err == nil && len(turns) > 0 {
			return turns
		}
	}
	turns, err := c.store.RecentTurns(ctx, sessionID, limit)
	if err != nil {
		c.log.Warn("recent turn read failed",
			zap.String("session_id", sessionID), zap.Error(err))
		return nil
	}
	return turns
}

// lockSession serializes turns per session. With redis the lock is shared
// across replicas; without it a per-process mutex is used.
func (c *Coordinator) lockSession(ctx context.Context, sessionID string) (func(), error) {
	if c.cache != nil {
		owner := uuid.NewString()
		for {
			ok, err := c.cache.AcquireSessionLock(ctx, sessionID, owner)
			if err != nil {
				break // redis unreachable, fall through to the local lock
			}
			if ok {
				return func() {
					releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					if err := c.cache.ReleaseSessionLock(releaseCtx, sessionID, owner); err != nil {
						c.log.Warn("session lock release failed",
							zap.String("session_id", sessionID), zap.Error(err))
					}
				}, nil
			}
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(lockRetryInterval):
			}
		}
	}

	muIface, _ := c.localLocks.LoadOrStore(sessionID, &sync.Mutex{})
	mu := muIface.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock, nil
}
