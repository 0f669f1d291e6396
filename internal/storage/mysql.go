package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"ShopScout/server/internal/config"
	"ShopScout/server/internal/interfaces"
	"ShopScout/server/internal/models"
)

// MySQLStore persists sessions, turns, and summaries. It implements
// interfaces.SessionStore.
type MySQLStore struct {
	db *gorm.DB
}

func NewMySQLStore(cfg config.MySQLConfig) (*MySQLStore, error) {
	dsn := fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=Local",
		cfg.Username,
		cfg.Password,
		cfg.Host,
		cfg.Port,
		cfg.Database,
	)

	db, err := gorm.Open(mysql.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}

	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	if err := db.AutoMigrate(
		&models.SessionRecord{},
		&models.TurnRecord{},
		&models.SummaryRecord{},
	); err != nil {
		return nil, err
	}

	return &MySQLStore{db: db}, nil
}

func (s *MySQLStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (s *MySQLStore) GetDB() *gorm.DB {
	return s.db
}

// Load fetches a session, creating it on first sight of the id.
func (s *MySQLStore) Load(ctx context.Context, sessionID, userID string) (*interfaces.Session, error) {
	var rec models.SessionRecord
	err := s.db.WithContext(ctx).First(&rec, "id = ?", sessionID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		rec = models.SessionRecord{
			ID:     sessionID,
			UserID: userID,
			Mode:   string(interfaces.ModeGeneral),
		}
		if err := s.db.WithContext(ctx).Create(&rec).Error; err != nil {
			return nil, fmt.Errorf("failed to create session: %w", err)
		}
	} else if err != nil {
		return nil, fmt.Errorf("failed to load session: %w", err)
	}

	session := &interfaces.Session{
		ID:                rec.ID,
		UserID:            rec.UserID,
		Mode:              interfaces.Mode(rec.Mode),
		LastIntent:        interfaces.Intent(rec.LastIntent),
		LastProductEntity: rec.LastEntity,
		TurnCount:         rec.TurnCount,
	}
	if rec.InterviewJSON != "" {
		var iv interfaces.InterviewState
		if err := json.Unmarshal([]byte(rec.InterviewJSON), &iv); err == nil {
			session.Interview = &iv
		}
	}
	return session, nil
}

func (s *MySQLStore) Save(ctx context.Context, session *interfaces.Session) error {
	interviewJSON := ""
	if session.Interview != nil {
		data, err := json.Marshal(session.Interview)
		if err != nil {
			return fmt.Errorf("failed to marshal interview state: %w", err)
		}
		interviewJSON = string(data)
	}

	return s.db.WithContext(ctx).Model(&models.SessionRecord{}).
		Where("id = ?", session.ID).
		Updates(map[string]interface{}{
			"mode":           string(session.Mode),
			"last_intent":    string(session.LastIntent),
			"last_entity":    session.LastProductEntity,
			"interview_json": interviewJSON,
			"turn_count":     session.TurnCount,
		}).Error
}

// AppendTurn persists a turn at the next sequence position. Turns are
// immutable once written.
func (s *MySQLStore) AppendTurn(ctx context.Context, turn interfaces.Turn) error {
	rec := models.TurnRecord{
		ID:        turn.ID,
		SessionID: turn.SessionID,
		Role:      string(turn.Role),
		Text:      turn.Text,
		Timestamp: turn.Timestamp,
	}
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	rec.CitationsJSON = marshalOrEmpty(turn.Citations)
	rec.CardsJSON = marshalOrEmpty(turn.ProductCards)
	rec.AttachmentsJSON = marshalOrEmpty(turn.Attachments)

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&models.TurnRecord{}).Where("session_id = ?", turn.SessionID).Count(&count).Error; err != nil {
			return err
		}
		rec.Seq = int(count) + 1
		return tx.Create(&rec).Error
	})
}

// RecentTurns returns the most recent turns in chronological order.
func (s *MySQLStore) RecentTurns(ctx context.Context, sessionID string, limit int) ([]interfaces.Turn, error) {
	var recs []models.TurnRecord
	err := s.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("seq DESC").
		Limit(limit).
		Find(&recs).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load recent turns: %w", err)
	}

	turns := make([]interfaces.Turn, 0, len(recs))
	for i := len(recs) - 1; i >= 0; i-- {
		turns = append(turns, recordToTurn(recs[i]))
	}
	return turns, nil
}

// TurnsAfter returns turns with a sequence position greater than afterCount,
// in chronological order. Used by the summarizer.
func (s *MySQLStore) TurnsAfter(ctx context.Context, sessionID string, afterCount, limit int) ([]interfaces.Turn, error) {
	var recs []models.TurnRecord
	err := s.db.WithContext(ctx).
		Where("session_id = ? AND seq > ?", sessionID, afterCount).
		Order("seq ASC").
		Limit(limit).
		Find(&recs).Error
	if err != nil {
		return nil, err
	}

	turns := make([]interfaces.Turn, 0, len(recs))
	for _, rec := range recs {
		turns = append(turns, recordToTurn(rec))
	}
	return turns, nil
}

func (s *MySQLStore) RecentSummaries(ctx context.Context, sessionID string, limit int) ([]interfaces.Summary, error) {
	var recs []models.SummaryRecord
	err := s.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("watermark DESC").
		Limit(limit).
		Find(&recs).Error
	if err != nil {
		return nil, err
	}

	summaries := make([]interfaces.Summary, 0, len(recs))
	for _, rec := range recs {
		summaries = append(summaries, interfaces.Summary{
			ID:        rec.ID,
			SessionID: rec.SessionID,
			Content:   rec.Content,
			Watermark: rec.Watermark,
			CreatedAt: rec.CreatedAt,
		})
	}
	return summaries, nil
}

func (s *MySQLStore) SaveSummary(ctx context.Context, summary interfaces.Summary) error {
	rec := models.SummaryRecord{
		ID:        summary.ID,
		SessionID: summary.SessionID,
		Content:   summary.Content,
		Watermark: summary.Watermark,
		CreatedAt: time.Now(),
	}
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	return s.db.WithContext(ctx).Create(&rec).Error
}

func recordToTurn(rec models.TurnRecord) interfaces.Turn {
	turn := interfaces.Turn{
		ID:        rec.ID,
		SessionID: rec.SessionID,
		Role:      interfaces.Role(rec.Role),
		Text:      rec.Text,
		Timestamp: rec.Timestamp,
	}
	unmarshalIfSet(rec.CitationsJSON, &turn.Citations)
	unmarshalIfSet(rec.CardsJSON, &turn.ProductCards)
	unmarshalIfSet(rec.AttachmentsJSON, &turn.Attachments)
	return turn
}

func marshalOrEmpty(v interface{}) string {
	data, err := json.Marshal(v)
	if err != nil || string(data) == "null" {
		return ""
	}
	return string(data)
}

func unmarshalIfSet(data string, v interface{}) {
	if data == "" {
		return
	}
	_ = json.Unmarshal([]byte(data), v)
}
