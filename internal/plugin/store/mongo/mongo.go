package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/charmbracelet/log"
	"github.com/chirino/chat-service/internal/config"
	"github.com/chirino/chat-service/internal/model"
	registrymigrate "github.com/chirino/chat-service/internal/registry/migrate"
	registrystore "github.com/chirino/chat-service/internal/registry/store"
	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

const dbName = "chat_service"

func init() {
	registrystore.Register(registrystore.Plugin{
		Name: "mongo",
		Loader: func(ctx context.Context) (registrystore.DocumentStore, error) {
			cfg := config.FromContext(ctx)
			opts := options.Client().ApplyURI(cfg.DBURL)
			if cfg.DBMaxOpenConns > 0 {
				opts.SetMaxPoolSize(uint64(cfg.DBMaxOpenConns))
			}
			if cfg.DBMaxIdleConns > 0 {
				opts.SetMinPoolSize(uint64(cfg.DBMaxIdleConns))
			}
			client, err := mongo.Connect(opts)
			if err != nil {
				return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
			}
			if err := client.Ping(ctx, nil); err != nil {
				return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
			}
			return &Store{client: client, db: client.Database(dbName)}, nil
		},
	})

	registrymigrate.Register(registrymigrate.Plugin{Order: 100, Migrator: &migrator{}})
}

type migrator struct{}

func (m *migrator) Name() string { return "mongo-schema" }
func (m *migrator) Migrate(ctx context.Context) error {
	cfg := config.FromContext(ctx)
	if cfg == nil || cfg.DatastoreType != "mongo" {
		return nil // skip if not using mongo
	}
	if !cfg.DatastoreMigrateAtStart {
		return nil
	}

	log.Info("Running migration", "name", m.Name())
	client, err := mongo.Connect(options.Client().ApplyURI(cfg.DBURL))
	if err != nil {
		return fmt.Errorf("mongo migration: failed to connect: %w", err)
	}
	defer client.Disconnect(ctx)

	db := client.Database(dbName)

	collections := map[string][]mongo.IndexModel{
		"chats": {
			{Keys: bson.D{{Key: "owner_user_id", Value: 1}, {Key: "created_at", Value: -1}}},
		},
		"branches": {
			{Keys: bson.D{{Key: "chat_id", Value: 1}}},
			{Keys: bson.D{{Key: "chat_id", Value: 1}, {Key: "is_main", Value: 1}}},
		},
		"messages": {
			{Keys: bson.D{{Key: "chat_id", Value: 1}}},
			{Keys: bson.D{{Key: "branch_id", Value: 1}, {Key: "created_at", Value: 1}}},
			{Keys: bson.D{{Key: "content", Value: "text"}}},
		},
		"user_preferences": {},
	}

	for name, indexes := range collections {
		db.CreateCollection(ctx, name)
		if len(indexes) > 0 {
			if _, err := db.Collection(name).Indexes().CreateMany(ctx, indexes); err != nil {
				return fmt.Errorf("mongo migration: failed to create indexes for %s: %w", name, err)
			}
		}
	}

	log.Info("MongoDB schema migration complete")
	return nil
}

// Store implements DocumentStore using MongoDB.
type Store struct {
	client *mongo.Client
	db     *mongo.Database
}

// ForceImport is a no-op variable that can be referenced to ensure this package's init() runs.
var ForceImport = 0

// --- MongoDB document types ---

type chatDoc struct {
	ID             string    `bson:"_id"`
	OwnerUserID    string    `bson:"owner_user_id"`
	Title          string    `bson:"title"`
	Visibility     string    `bson:"visibility"`
	ActiveBranchID *string   `bson:"active_branch_id,omitempty"`
	BaseMessages   []string  `bson:"base_messages"`
	ActiveMessages []string  `bson:"active_messages"`
	CreatedAt      time.Time `bson:"created_at"`
	UpdatedAt      time.Time `bson:"updated_at"`
}

type branchDoc struct {
	ID            string    `bson:"_id"`
	ChatID        string    `bson:"chat_id"`
	FromMessageID *string   `bson:"from_message_id,omitempty"`
	Messages      []string  `bson:"messages"`
	IsMain        bool      `bson:"is_main"`
	Name          string    `bson:"name"`
	Description   string    `bson:"description,omitempty"`
	CreatedAt     time.Time `bson:"created_at"`
}

type messageDoc struct {
	ID             string    `bson:"_id"`
	ChatID         string    `bson:"chat_id"`
	BranchID       string    `bson:"branch_id"`
	Role           string    `bson:"role"`
	Content        string    `bson:"content"`
	Model          string    `bson:"model,omitempty"`
	Branches       []string  `bson:"branches,omitempty"`
	ActiveBranchID *string   `bson:"active_branch_id,omitempty"`
	CreatedAt      time.Time `bson:"created_at"`
}

type prefsDoc struct {
	UserID       string         `bson:"_id"`
	DefaultModel string         `bson:"default_model,omitempty"`
	Theme        string         `bson:"theme,omitempty"`
	Metadata     map[string]any `bson:"metadata,omitempty"`
	UpdatedAt    time.Time      `bson:"updated_at"`
}

// --- Collection accessors ---

func (s *Store) chats() *mongo.Collection    { return s.db.Collection("chats") }
func (s *Store) branches() *mongo.Collection { return s.db.Collection("branches") }
func (s *Store) messages() *mongo.Collection { return s.db.Collection("messages") }
func (s *Store) prefs() *mongo.Collection    { return s.db.Collection("user_preferences") }

// --- UUID helpers ---

func uuidToStr(id uuid.UUID) string { return id.String() }
func strToUUID(s string) uuid.UUID  { u, _ := uuid.Parse(s); return u }
func ptrUUIDToStr(id *uuid.UUID) *string {
	if id == nil {
		return nil
	}
	s := id.String()
	return &s
}
func ptrStrToUUID(s *string) *uuid.UUID {
	if s == nil {
		return nil
	}
	u := strToUUID(*s)
	return &u
}
func uuidsToStrs(ids []uuid.UUID) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = id.String()
	}
	return out
}
func strsToUUIDs(strs []string) []uuid.UUID {
	out := make([]uuid.UUID, len(strs))
	for i, s := range strs {
		out[i] = strToUUID(s)
	}
	return out
}

// --- Document conversions ---

func toChatDoc(c *model.Chat) chatDoc {
	return chatDoc{
		ID:             uuidToStr(c.ID),
		OwnerUserID:    c.OwnerUserID,
		Title:          c.Title,
		Visibility:     string(c.Visibility),
		ActiveBranchID: ptrUUIDToStr(c.ActiveBranchID),
		BaseMessages:   uuidsToStrs(c.BaseMessages),
		ActiveMessages: uuidsToStrs(c.ActiveMessages),
		CreatedAt:      c.CreatedAt,
		UpdatedAt:      c.UpdatedAt,
	}
}

func (d chatDoc) toModel() model.Chat {
	return model.Chat{
		ID:             strToUUID(d.ID),
		OwnerUserID:    d.OwnerUserID,
		Title:          d.Title,
		Visibility:     model.Visibility(d.Visibility),
		ActiveBranchID: ptrStrToUUID(d.ActiveBranchID),
		BaseMessages:   strsToUUIDs(d.BaseMessages),
		ActiveMessages: strsToUUIDs(d.ActiveMessages),
		CreatedAt:      d.CreatedAt,
		UpdatedAt:      d.UpdatedAt,
	}
}

func toBranchDoc(b *model.Branch) branchDoc {
	return branchDoc{
		ID:            uuidToStr(b.ID),
		ChatID:        uuidToStr(b.ChatID),
		FromMessageID: ptrUUIDToStr(b.FromMessageID),
		Messages:      uuidsToStrs(b.Messages),
		IsMain:        b.IsMain,
		Name:          b.Name,
		Description:   b.Description,
		CreatedAt:     b.CreatedAt,
	}
}

func (d branchDoc) toModel() model.Branch {
	return model.Branch{
		ID:            strToUUID(d.ID),
		ChatID:        strToUUID(d.ChatID),
		FromMessageID: ptrStrToUUID(d.FromMessageID),
		Messages:      strsToUUIDs(d.Messages),
		IsMain:        d.IsMain,
		Name:          d.Name,
		Description:   d.Description,
		CreatedAt:     d.CreatedAt,
	}
}

func toMessageDoc(m *model.Message) messageDoc {
	return messageDoc{
		ID:             uuidToStr(m.ID),
		ChatID:         uuidToStr(m.ChatID),
		BranchID:       uuidToStr(m.BranchID),
		Role:           string(m.Role),
		Content:        m.Content,
		Model:          m.Model,
		Branches:       uuidsToStrs(m.Branches),
		ActiveBranchID: ptrUUIDToStr(m.ActiveBranchID),
		CreatedAt:      m.CreatedAt,
	}
}

func (d messageDoc) toModel() model.Message {
	return model.Message{
		ID:             strToUUID(d.ID),
		ChatID:         strToUUID(d.ChatID),
		BranchID:       strToUUID(d.BranchID),
		Role:           model.Role(d.Role),
		Content:        d.Content,
		Model:          d.Model,
		Branches:       strsToUUIDs(d.Branches),
		ActiveBranchID: ptrStrToUUID(d.ActiveBranchID),
		CreatedAt:      d.CreatedAt,
	}
}

// --- DocumentStore ---

func (s *Store) Chats() registrystore.ChatRepository { return &chatRepo{s} }

func (s *Store) Branches() registrystore.BranchRepository { return &branchRepo{s} }

func (s *Store) Messages() registrystore.MessageRepository { return &messageRepo{s} }

func (s *Store) Preferences() registrystore.PreferenceRepository { return &prefRepo{s} }

func (s *Store) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

type chatRepo struct{ s *Store }

func (r *chatRepo) Insert(ctx context.Context, chat *model.Chat) (uuid.UUID, error) {
	if chat.ID == uuid.Nil {
		chat.ID = uuid.New()
	}
	if _, err := r.s.chats().InsertOne(ctx, toChatDoc(chat)); err != nil {
		return uuid.Nil, fmt.Errorf("failed to insert chat: %w", err)
	}
	return chat.ID, nil
}

func (r *chatRepo) Get(ctx context.Context, id uuid.UUID) (*model.Chat, error) {
	var doc chatDoc
	err := r.s.chats().FindOne(ctx, bson.M{"_id": uuidToStr(id)}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, &registrystore.NotFoundError{Resource: "chat", ID: id.String()}
		}
		return nil, err
	}
	m := doc.toModel()
	return &m, nil
}

func (r *chatRepo) Patch(ctx context.Context, id uuid.UUID, patch registrystore.ChatPatch) error {
	set := bson.M{"updated_at": time.Now()}
	if patch.Title != nil {
		set["title"] = *patch.Title
	}
	if patch.Visibility != nil {
		set["visibility"] = string(*patch.Visibility)
	}
	if patch.ActiveBranchID != nil {
		set["active_branch_id"] = uuidToStr(*patch.ActiveBranchID)
	}
	if patch.BaseMessages != nil {
		set["base_messages"] = uuidsToStrs(*patch.BaseMessages)
	}
	if patch.ActiveMessages != nil {
		set["active_messages"] = uuidsToStrs(*patch.ActiveMessages)
	}
	res, err := r.s.chats().UpdateOne(ctx, bson.M{"_id": uuidToStr(id)}, bson.M{"$set": set})
	if err != nil {
		return fmt.Errorf("failed to patch chat: %w", err)
	}
	if res.MatchedCount == 0 {
		return &registrystore.NotFoundError{Resource: "chat", ID: id.String()}
	}
	return nil
}

func (r *chatRepo) Delete(ctx context.Context, id uuid.UUID) error {
	res, err := r.s.chats().DeleteOne(ctx, bson.M{"_id": uuidToStr(id)})
	if err != nil {
		return fmt.Errorf("failed to delete chat: %w", err)
	}
	if res.DeletedCount == 0 {
		return &registrystore.NotFoundError{Resource: "chat", ID: id.String()}
	}
	return nil
}

func (r *chatRepo) ListByOwner(ctx context.Context, userID string, afterCursor *string, limit int) ([]model.Chat, *string, error) {
	if limit <= 0 {
		limit = 50
	}
	filter := bson.M{"owner_user_id": userID}
	if afterCursor != nil {
		var cursorDoc chatDoc
		err := r.s.chats().FindOne(ctx, bson.M{"_id": *afterCursor}).Decode(&cursorDoc)
		if err == nil {
			filter["created_at"] = bson.M{"$lt": cursorDoc.CreatedAt}
		}
	}
	opts := options.Find().
		SetSort(bson.D{{Key: "created_at", Value: -1}}).
		SetLimit(int64(limit) + 1)
	cur, err := r.s.chats().Find(ctx, filter, opts)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to list chats: %w", err)
	}
	defer cur.Close(ctx)

	var docs []chatDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, nil, err
	}
	var next *string
	if len(docs) > limit {
		docs = docs[:limit]
		cursor := docs[len(docs)-1].ID
		next = &cursor
	}
	out := make([]model.Chat, 0, len(docs))
	for _, d := range docs {
		out = append(out, d.toModel())
	}
	return out, next, nil
}

type branchRepo struct{ s *Store }

func (r *branchRepo) Insert(ctx context.Context, branch *model.Branch) (uuid.UUID, error) {
	if branch.ID == uuid.Nil {
		branch.ID = uuid.New()
	}
	if _, err := r.s.branches().InsertOne(ctx, toBranchDoc(branch)); err != nil {
		return uuid.Nil, fmt.Errorf("failed to insert branch: %w", err)
	}
	return branch.ID, nil
}

func (r *branchRepo) Get(ctx context.Context, id uuid.UUID) (*model.Branch, error) {
	var doc branchDoc
	err := r.s.branches().FindOne(ctx, bson.M{"_id": uuidToStr(id)}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, &registrystore.NotFoundError{Resource: "branch", ID: id.String()}
		}
		return nil, err
	}
	m := doc.toModel()
	return &m, nil
}

func (r *branchRepo) Patch(ctx context.Context, id uuid.UUID, patch registrystore.BranchPatch) error {
	set := bson.M{}
	if patch.Messages != nil {
		set["messages"] = uuidsToStrs(*patch.Messages)
	}
	if patch.Name != nil {
		set["name"] = *patch.Name
	}
	if patch.Description != nil {
		set["description"] = *patch.Description
	}
	if len(set) == 0 {
		return nil
	}
	res, err := r.s.branches().UpdateOne(ctx, bson.M{"_id": uuidToStr(id)}, bson.M{"$set": set})
	if err != nil {
		return fmt.Errorf("failed to patch branch: %w", err)
	}
	if res.MatchedCount == 0 {
		return &registrystore.NotFoundError{Resource: "branch", ID: id.String()}
	}
	return nil
}

func (r *branchRepo) Delete(ctx context.Context, id uuid.UUID) error {
	res, err := r.s.branches().DeleteOne(ctx, bson.M{"_id": uuidToStr(id)})
	if err != nil {
		return fmt.Errorf("failed to delete branch: %w", err)
	}
	if res.DeletedCount == 0 {
		return &registrystore.NotFoundError{Resource: "branch", ID: id.String()}
	}
	return nil
}

func (r *branchRepo) ListByChat(ctx context.Context, chatID uuid.UUID) ([]model.Branch, error) {
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}})
	cur, err := r.s.branches().Find(ctx, bson.M{"chat_id": uuidToStr(chatID)}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list branches: %w", err)
	}
	defer cur.Close(ctx)

	var docs []branchDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, err
	}
	out := make([]model.Branch, 0, len(docs))
	for _, d := range docs {
		out = append(out, d.toModel())
	}
	return out, nil
}

func (r *branchRepo) FindMain(ctx context.Context, chatID uuid.UUID) (*model.Branch, error) {
	var doc branchDoc
	err := r.s.branches().FindOne(ctx, bson.M{"chat_id": uuidToStr(chatID), "is_main": true}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, &registrystore.NotFoundError{Resource: "branch", ID: "main:" + chatID.String()}
		}
		return nil, err
	}
	m := doc.toModel()
	return &m, nil
}

type messageRepo struct{ s *Store }

func (r *messageRepo) Insert(ctx context.Context, msg *model.Message) (uuid.UUID, error) {
	if msg.ID == uuid.Nil {
		msg.ID = uuid.New()
	}
	if _, err := r.s.messages().InsertOne(ctx, toMessageDoc(msg)); err != nil {
		return uuid.Nil, fmt.Errorf("failed to insert message: %w", err)
	}
	return msg.ID, nil
}

func (r *messageRepo) Get(ctx context.Context, id uuid.UUID) (*model.Message, error) {
	var doc messageDoc
	err := r.s.messages().FindOne(ctx, bson.M{"_id": uuidToStr(id)}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, &registrystore.NotFoundError{Resource: "message", ID: id.String()}
		}
		return nil, err
	}
	m := doc.toModel()
	return &m, nil
}

func (r *messageRepo) GetMany(ctx context.Context, ids []uuid.UUID) ([]model.Message, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	cur, err := r.s.messages().Find(ctx, bson.M{"_id": bson.M{"$in": uuidsToStrs(ids)}})
	if err != nil {
		return nil, fmt.Errorf("failed to fetch messages: %w", err)
	}
	defer cur.Close(ctx)

	var docs []messageDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, err
	}
	byID := make(map[uuid.UUID]model.Message, len(docs))
	for _, d := range docs {
		m := d.toModel()
		byID[m.ID] = m
	}
	// Preserve input order, silently skipping missing ids.
	out := make([]model.Message, 0, len(docs))
	for _, id := range ids {
		if m, ok := byID[id]; ok {
			out = append(out, m)
		}
	}
	return out, nil
}

func (r *messageRepo) Patch(ctx context.Context, id uuid.UUID, patch registrystore.MessagePatch) error {
	set := bson.M{}
	if patch.Content != nil {
		set["content"] = *patch.Content
	}
	if patch.Branches != nil {
		set["branches"] = uuidsToStrs(*patch.Branches)
	}
	if patch.ActiveBranchID != nil {
		set["active_branch_id"] = uuidToStr(*patch.ActiveBranchID)
	}
	if len(set) == 0 {
		return nil
	}
	res, err := r.s.messages().UpdateOne(ctx, bson.M{"_id": uuidToStr(id)}, bson.M{"$set": set})
	if err != nil {
		return fmt.Errorf("failed to patch message: %w", err)
	}
	if res.MatchedCount == 0 {
		return &registrystore.NotFoundError{Resource: "message", ID: id.String()}
	}
	return nil
}

func (r *messageRepo) Delete(ctx context.Context, id uuid.UUID) error {
	res, err := r.s.messages().DeleteOne(ctx, bson.M{"_id": uuidToStr(id)})
	if err != nil {
		return fmt.Errorf("failed to delete message: %w", err)
	}
	if res.DeletedCount == 0 {
		return &registrystore.NotFoundError{Resource: "message", ID: id.String()}
	}
	return nil
}

func (r *messageRepo) ListByBranch(ctx context.Context, branchID uuid.UUID) ([]model.Message, error) {
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}})
	cur, err := r.s.messages().Find(ctx, bson.M{"branch_id": uuidToStr(branchID)}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}
	defer cur.Close(ctx)

	var docs []messageDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, err
	}
	out := make([]model.Message, 0, len(docs))
	for _, d := range docs {
		out = append(out, d.toModel())
	}
	return out, nil
}

func (r *messageRepo) DeleteByChat(ctx context.Context, chatID uuid.UUID) error {
	if _, err := r.s.messages().DeleteMany(ctx, bson.M{"chat_id": uuidToStr(chatID)}); err != nil {
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
	filter := bson.M{
		"$text":   bson.M{"$search": query},
		"chat_id": bson.M{"$in": uuidsToStrs(chatIDs)},
	}
	opts := options.Find().
		SetProjection(bson.M{"score": bson.M{"$meta": "textScore"}}).
		SetSort(bson.M{"score": bson.M{"$meta": "textScore"}}).
		SetLimit(int64(limit))
	cur, err := r.s.messages().Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to search messages: %w", err)
	}
	defer cur.Close(ctx)

	var docs []messageDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, err
	}
	out := make([]model.Message, 0, len(docs))
	for _, d := range docs {
		out = append(out, d.toModel())
	}
	return out, nil
}

type prefRepo struct{ s *Store }

func (r *prefRepo) Get(ctx context.Context, userID string) (*model.UserPreferences, error) {
	var doc prefsDoc
	err := r.s.prefs().FindOne(ctx, bson.M{"_id": userID}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, &registrystore.NotFoundError{Resource: "preferences", ID: userID}
		}
		return nil, err
	}
	return &model.UserPreferences{
		UserID:       doc.UserID,
		DefaultModel: doc.DefaultModel,
		Theme:        doc.Theme,
		Metadata:     doc.Metadata,
		UpdatedAt:    doc.UpdatedAt,
	}, nil
}

func (r *prefRepo) Put(ctx context.Context, prefs *model.UserPreferences) error {
	doc := prefsDoc{
		UserID:       prefs.UserID,
		DefaultModel: prefs.DefaultModel,
		Theme:        prefs.Theme,
		Metadata:     prefs.Metadata,
		UpdatedAt:    time.Now(),
	}
	opts := options.UpdateOne().SetUpsert(true)
	if _, err := r.s.prefs().UpdateOne(ctx, bson.M{"_id": prefs.UserID}, bson.M{"$set": doc}, opts); err != nil {
		return fmt.Errorf("failed to store preferences: %w", err)
	}
	return nil
}

func (r *prefRepo) Delete(ctx context.Context, userID string) error {
	res, err := r.s.prefs().DeleteOne(ctx, bson.M{"_id": userID})
	if err != nil {
		return fmt.Errorf("failed to delete preferences: %w", err)
	}
	if res.DeletedCount == 0 {
		return &registrystore.NotFoundError{Resource: "preferences", ID: userID}
	}
	return nil
}
