// Package gormstore provides a DocumentStore backed by a relational database
// through GORM. The DSN picks the dialect: postgres:// URLs use the postgres
// driver, anything else is opened as a SQLite file.
package gormstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/chirino/chat-service/internal/config"
	"github.com/chirino/chat-service/internal/model"
	registrymigrate "github.com/chirino/chat-service/internal/registry/migrate"
	registrystore "github.com/chirino/chat-service/internal/registry/store"
	"github.com/chirino/chat-service/internal/security"
	"github.com/google/uuid"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func init() {
	registrystore.Register(registrystore.Plugin{
		Name: "gorm",
		Loader: func(ctx context.Context) (registrystore.DocumentStore, error) {
			cfg := config.FromContext(ctx)
			db, err := open(cfg.DBURL)
			if err != nil {
				return nil, err
			}
			sqlDB, err := db.DB()
			if err != nil {
				return nil, fmt.Errorf("failed to get underlying db: %w", err)
			}
			sqlDB.SetMaxOpenConns(cfg.DBMaxOpenConns)
			sqlDB.SetMaxIdleConns(cfg.DBMaxIdleConns)
			if security.DBPoolMaxConnections != nil {
				security.DBPoolMaxConnections.Set(float64(cfg.DBMaxOpenConns))
			}

			// Periodically update the open connections gauge.
			go func() {
				ticker := time.NewTicker(15 * time.Second)
				defer ticker.Stop()
				for {
					select {
					case <-ctx.Done():
						return
					case <-ticker.C:
						if security.DBPoolOpenConnections != nil {
							security.DBPoolOpenConnections.Set(float64(sqlDB.Stats().OpenConnections))
						}
					}
				}
			}()

			return &Store{db: db}, nil
		},
	})

	registrymigrate.Register(registrymigrate.Plugin{Order: 100, Migrator: &migrator{}})
}

func open(dsn string) (*gorm.DB, error) {
	var dialector gorm.Dialector
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		dialector = postgres.Open(dsn)
	} else {
		dialector = sqlite.Open(dsn)
	}
	db, err := gorm.Open(dialector, &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return db, nil
}

type migrator struct{}

func (m *migrator) Name() string { return "gorm-schema" }
func (m *migrator) Migrate(ctx context.Context) error {
	cfg := config.FromContext(ctx)
	if cfg == nil || cfg.DatastoreType != "gorm" {
		return nil // skip if not using gorm
	}
	if !cfg.DatastoreMigrateAtStart {
		return nil
	}
	log.Info("Running migration", "name", m.Name())
	db, err := open(cfg.DBURL)
	if err != nil {
		return fmt.Errorf("migration: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	defer sqlDB.Close()

	if err := db.WithContext(ctx).AutoMigrate(
		&model.Chat{},
		&model.Branch{},
		&model.Message{},
		&model.UserPreferences{},
	); err != nil {
		return fmt.Errorf("migration: failed to migrate schema: %w", err)
	}
	log.Info("Database schema migration complete")
	return nil
}

// Store implements DocumentStore using GORM.
type Store struct {
	db *gorm.DB
}

// New wraps an existing gorm handle; used by tests with an in-process SQLite file.
func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// ForceImport is a no-op variable that can be referenced to ensure this package's init() runs.
var ForceImport = 0

// jsonIDs serializes a uuid list the same way the gorm json serializer does;
// map-based Updates bypass field serializers, so raw updates must match.
func jsonIDs(ids []uuid.UUID) string {
	if ids == nil {
		ids = []uuid.UUID{}
	}
	b, _ := json.Marshal(ids)
	return string(b)
}

func (s *Store) Chats() registrystore.ChatRepository { return &chatRepo{s.db} }

func (s *Store) Branches() registrystore.BranchRepository { return &branchRepo{s.db} }

func (s *Store) Messages() registrystore.MessageRepository { return &messageRepo{s.db} }

func (s *Store) Preferences() registrystore.PreferenceRepository { return &prefRepo{s.db} }

func (s *Store) Close(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

type chatRepo struct{ db *gorm.DB }

func (r *chatRepo) Insert(ctx context.Context, chat *model.Chat) (uuid.UUID, error) {
	if chat.ID == uuid.Nil {
		chat.ID = uuid.New()
	}
	if err := r.db.WithContext(ctx).Create(chat).Error; err != nil {
		return uuid.Nil, fmt.Errorf("failed to insert chat: %w", err)
	}
	return chat.ID, nil
}

func (r *chatRepo) Get(ctx context.Context, id uuid.UUID) (*model.Chat, error) {
	var chat model.Chat
	err := r.db.WithContext(ctx).First(&chat, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, &registrystore.NotFoundError{Resource: "chat", ID: id.String()}
		}
		return nil, err
	}
	return &chat, nil
}

func (r *chatRepo) Patch(ctx context.Context, id uuid.UUID, patch registrystore.ChatPatch) error {
	updates := map[string]any{"updated_at": time.Now()}
	if patch.Title != nil {
		updates["title"] = *patch.Title
	}
	if patch.Visibility != nil {
		updates["visibility"] = string(*patch.Visibility)
	}
	if patch.ActiveBranchID != nil {
		updates["active_branch_id"] = *patch.ActiveBranchID
	}
	if patch.BaseMessages != nil {
		updates["base_messages"] = jsonIDs(*patch.BaseMessages)
	}
	if patch.ActiveMessages != nil {
		updates["active_messages"] = jsonIDs(*patch.ActiveMessages)
	}
	res := r.db.WithContext(ctx).Model(&model.Chat{}).Where("id = ?", id).Updates(updates)
	if res.Error != nil {
		return fmt.Errorf("failed to patch chat: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return &registrystore.NotFoundError{Resource: "chat", ID: id.String()}
	}
	return nil
}

func (r *chatRepo) Delete(ctx context.Context, id uuid.UUID) error {
	res := r.db.WithContext(ctx).Delete(&model.Chat{}, "id = ?", id)
	if res.Error != nil {
		return fmt.Errorf("failed to delete chat: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return &registrystore.NotFoundError{Resource: "chat", ID: id.String()}
	}
	return nil
}

func (r *chatRepo) ListByOwner(ctx context.Context, userID string, afterCursor *string, limit int) ([]model.Chat, *string, error) {
	if limit <= 0 {
		limit = 50
	}
	q := r.db.WithContext(ctx).
		Where("owner_user_id = ?", userID).
		Order("created_at DESC, id").
		Limit(limit + 1)
	if afterCursor != nil {
		var cursorChat model.Chat
		if err := r.db.WithContext(ctx).First(&cursorChat, "id = ?", *afterCursor).Error; err == nil {
			q = q.Where("created_at < ?", cursorChat.CreatedAt)
		}
	}
	var chats []model.Chat
	if err := q.Find(&chats).Error; err != nil {
		return nil, nil, fmt.Errorf("failed to list chats: %w", err)
	}
	var next *string
	if len(chats) > limit {
		chats = chats[:limit]
		cursor := chats[len(chats)-1].ID.String()
		next = &cursor
	}
	return chats, next, nil
}

type branchRepo struct{ db *gorm.DB }

func (r *branchRepo) Insert(ctx context.Context, branch *model.Branch) (uuid.UUID, error) {
	if branch.ID == uuid.Nil {
		branch.ID = uuid.New()
	}
	if err := r.db.WithContext(ctx).Create(branch).Error; err != nil {
		return uuid.Nil, fmt.Errorf("failed to insert branch: %w", err)
	}
	return branch.ID, nil
}

func (r *branchRepo) Get(ctx context.Context, id uuid.UUID) (*model.Branch, error) {
	var branch model.Branch
	err := r.db.WithContext(ctx).First(&branch, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, &registrystore.NotFoundError{Resource: "branch", ID: id.String()}
		}
		return nil, err
	}
	return &branch, nil
}

func (r *branchRepo) Patch(ctx context.Context, id uuid.UUID, patch registrystore.BranchPatch) error {
	updates := map[string]any{}
	if patch.Messages != nil {
		updates["messages"] = jsonIDs(*patch.Messages)
	}
	if patch.Name != nil {
		updates["name"] = *patch.Name
	}
	if patch.Description != nil {
		updates["description"] = *patch.Description
	}
	if len(updates) == 0 {
		return nil
	}
	res := r.db.WithContext(ctx).Model(&model.Branch{}).Where("id = ?", id).Updates(updates)
	if res.Error != nil {
		return fmt.Errorf("failed to patch branch: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return &registrystore.NotFoundError{Resource: "branch", ID: id.String()}
	}
	return nil
}

func (r *branchRepo) Delete(ctx context.Context, id uuid.UUID) error {
	res := r.db.WithContext(ctx).Delete(&model.Branch{}, "id = ?", id)
	if res.Error != nil {
		return fmt.Errorf("failed to delete branch: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return &registrystore.NotFoundError{Resource: "branch", ID: id.String()}
	}
	return nil
}

func (r *branchRepo) ListByChat(ctx context.Context, chatID uuid.UUID) ([]model.Branch, error) {
	var branches []model.Branch
	err := r.db.WithContext(ctx).
		Where("chat_id = ?", chatID).
		Order("created_at, id").
		Find(&branches).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list branches: %w", err)
	}
	return branches, nil
}

func (r *branchRepo) FindMain(ctx context.Context, chatID uuid.UUID) (*model.Branch, error) {
	var branch model.Branch
	err := r.db.WithContext(ctx).First(&branch, "chat_id = ? AND is_main = ?", chatID, true).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, &registrystore.NotFoundError{Resource: "branch", ID: "main:" + chatID.String()}
		}
		return nil, err
	}
	return &branch, nil
}

type messageRepo struct{ db *gorm.DB }

func (r *messageRepo) Insert(ctx context.Context, msg *model.Message) (uuid.UUID, error) {
	if msg.ID == uuid.Nil {
		msg.ID = uuid.New()
	}
	if err := r.db.WithContext(ctx).Create(msg).Error; err != nil {
		return uuid.Nil, fmt.Errorf("failed to insert message: %w", err)
	}
	return msg.ID, nil
}

func (r *messageRepo) Get(ctx context.Context, id uuid.UUID) (*model.Message, error) {
	var msg model.Message
	err := r.db.WithContext(ctx).First(&msg, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, &registrystore.NotFoundError{Resource: "message", ID: id.String()}
		}
		return nil, err
	}
	return &msg, nil
}

func (r *messageRepo) GetMany(ctx context.Context, ids []uuid.UUID) ([]model.Message, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var msgs []model.Message
	if err := r.db.WithContext(ctx).Where("id IN ?", ids).Find(&msgs).Error; err != nil {
		return nil, fmt.Errorf("failed to fetch messages: %w", err)
	}
	byID := make(map[uuid.UUID]model.Message, len(msgs))
	for _, m := range msgs {
		byID[m.ID] = m
	}
	// Preserve input order, silently skipping missing ids.
	out := make([]model.Message, 0, len(msgs))
	for _, id := range ids {
		if m, ok := byID[id]; ok {
			out = append(out, m)
		}
	}
	return out, nil
}

func (r *messageRepo) Patch(ctx context.Context, id uuid.UUID, patch registrystore.MessagePatch) error {
	updates := map[string]any{}
	if patch.Content != nil {
		updates["content"] = *patch.Content
	}
	if patch.Branches != nil {
		updates["branches"] = jsonIDs(*patch.Branches)
	}
	if patch.ActiveBranchID != nil {
		updates["active_branch_id"] = *patch.ActiveBranchID
	}
	if len(updates) == 0 {
		return nil
	}
	res := r.db.WithContext(ctx).Model(&model.Message{}).Where("id = ?", id).Updates(updates)
	if res.Error != nil {
		return fmt.Errorf("failed to patch message: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return &registrystore.NotFoundError{Resource: "message", ID: id.String()}
	}
	return nil
}

func (r *messageRepo) Delete(ctx context.Context, id uuid.UUID) error {
	res := r.db.WithContext(ctx).Delete(&model.Message{}, "id = ?", id)
	if res.Error != nil {
		return fmt.Errorf("failed to delete message: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return &registrystore.NotFoundError{Resource: "message", ID: id.String()}
	}
	return nil
}

func (r *messageRepo) ListByBranch(ctx context.Context, branchID uuid.UUID) ([]model.Message, error) {
	var msgs []model.Message
	err := r.db.WithContext(ctx).
		Where("branch_id = ?", branchID).
		Order("created_at, id").
		Find(&msgs).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}
	return msgs, nil
}

func (r *messageRepo) DeleteByChat(ctx context.Context, chatID uuid.UUID) error {
	if err := r.db.WithContext(ctx).Delete(&model.Message{}, "chat_id = ?", chatID).Error; err != nil {
		return fmt.Errorf("failed to delete chat messages: %w", err)
	}
	return nil
}

func (r *messageRepo) Search(ctx context.Context, chatIDs []uuid.UUID, query string, limit int) ([]model.Message, error) {
	if len(chatIDs) == 0 {
		return nil, nil
	}
	if limit <= 0 {
		limit = 25
	}
	var msgs []model.Message
	err := r.db.WithContext(ctx).
		Where("chat_id IN ?", chatIDs).
		Where("LOWER(content) LIKE ?", "%"+strings.ToLower(query)+"%").
		Order("created_at DESC").
		Limit(limit).
		Find(&msgs).Error
	if err != nil {
		return nil, fmt.Errorf("failed to search messages: %w", err)
	}
	return msgs, nil
}

type prefRepo struct{ db *gorm.DB }

func (r *prefRepo) Get(ctx context.Context, userID string) (*model.UserPreferences, error) {
	var prefs model.UserPreferences
	err := r.db.WithContext(ctx).First(&prefs, "user_id = ?", userID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, &registrystore.NotFoundError{Resource: "preferences", ID: userID}
		}
		return nil, err
	}
	return &prefs, nil
}

func (r *prefRepo) Put(ctx context.Context, prefs *model.UserPreferences) error {
	prefs.UpdatedAt = time.Now()
	if err := r.db.WithContext(ctx).Save(prefs).Error; err != nil {
		return fmt.Errorf("failed to store preferences: %w", err)
	}
	return nil
}

func (r *prefRepo) Delete(ctx context.Context, userID string) error {
	res := r.db.WithContext(ctx).Delete(&model.UserPreferences{}, "user_id = ?", userID)
	if res.Error != nil {
		return fmt.Errorf("failed to delete preferences: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return &registrystore.NotFoundError{Resource: "preferences", ID: userID}
	}
	return nil
}
