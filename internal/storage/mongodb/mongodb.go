package mongodb

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"vidtube/internal/domain/models"
	"vidtube/internal/storage"
)

type Storage struct {
	client        *mongo.Client
	database      *mongo.Database
	users         *mongo.Collection
	videos        *mongo.Collection
	subscriptions *mongo.Collection
}

type userDoc struct {
	ID           bson.ObjectID   `bson:"_id,omitempty"`
	Username     string          `bson:"username"`
	Email        string          `bson:"email"`
	FullName     string          `bson:"full_name"`
	Avatar       string          `bson:"avatar"`
	CoverImage   string          `bson:"cover_image,omitempty"`
	PassHash     []byte          `bson:"pass_hash"`
	RefreshToken string          `bson:"refresh_token,omitempty"`
	WatchHistory []bson.ObjectID `bson:"watch_history,omitempty"`
	CreatedAt    time.Time       `bson:"created_at"`
	UpdatedAt    time.Time       `bson:"updated_at"`
}

type videoDoc struct {
	ID          bson.ObjectID `bson:"_id,omitempty"`
	Title       string        `bson:"title"`
	Description string        `bson:"description"`
	VideoFile   string        `bson:"video_file"`
	Thumbnail   string        `bson:"thumbnail"`
	Owner       bson.ObjectID `bson:"owner"`
	Duration    float64       `bson:"duration"`
	Views       int64         `bson:"views"`
	IsPublished bool          `bson:"is_published"`
	CreatedAt   time.Time     `bson:"created_at"`
}

// New connects to MongoDB and pings it. Collections and indexes are
// provisioned by cmd/migrator, not here.
func New(ctx context.Context, uri, database string) (*Storage, error) {
	const op = "storage.mongodb.New"

	client, err := mongo.Connect(options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("%s: connect: %w", op, err)
	}

	if err := client.Ping(ctx, nil); err != nil {
		return nil, fmt.Errorf("%s: ping: %w", op, err)
	}

	db := client.Database(database)
	return &Storage{
		client:        client,
		database:      db,
		users:         db.Collection("users"),
		videos:        db.Collection("videos"),
		subscriptions: db.Collection("subscriptions"),
	}, nil
}

// Close disconnects from MongoDB.
func (s *Storage) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

// SaveUser inserts a new account and returns the generated ID.
func (s *Storage) SaveUser(ctx context.Context, user *models.User) (string, error) {
	const op = "storage.mongodb.SaveUser"

	now := time.Now()
	doc := userDoc{
		Username:   strings.ToLower(user.Username),
		Email:      strings.ToLower(user.Email),
		FullName:   user.FullName,
		Avatar:     user.Avatar,
		CoverImage: user.CoverImage,
		PassHash:   user.PassHash,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	res, err := s.users.InsertOne(ctx, doc)
	if err != nil {
		if isDuplicateKeyError(err) {
			return "", fmt.Errorf("%s: %w", op, storage.ErrUserExists)
		}
		return "", fmt.Errorf("%s: %w", op, err)
	}

	oid, ok := res.InsertedID.(bson.ObjectID)
	if !ok {
		return "", fmt.Errorf("%s: unexpected inserted id type %T", op, res.InsertedID)
	}

	return oid.Hex(), nil
}

// UserByLogin retrieves a user by username or email (both stored lower-cased).
func (s *Storage) UserByLogin(ctx context.Context, login string) (*models.User, error) {
	const op = "storage.mongodb.UserByLogin"

	login = strings.ToLower(login)
	filter := bson.D{{Key: "$or", Value: bson.A{
		bson.D{{Key: "username", Value: login}},
		bson.D{{Key: "email", Value: login}},
	}}}

	var doc userDoc
	if err := s.users.FindOne(ctx, filter).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, fmt.Errorf("%s: %w", op, storage.ErrUserNotFound)
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return doc.toModel(), nil
}

// UserByUsername retrieves a user by its case-folded username.
func (s *Storage) UserByUsername(ctx context.Context, username string) (*models.User, error) {
	const op = "storage.mongodb.UserByUsername"

	var doc userDoc
	err := s.users.FindOne(ctx, bson.D{{Key: "username", Value: strings.ToLower(username)}}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, fmt.Errorf("%s: %w", op, storage.ErrUserNotFound)
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return doc.toModel(), nil
}

// UserByID retrieves a user by its hex ID.
func (s *Storage) UserByID(ctx context.Context, userID string) (*models.User, error) {
	const op = "storage.mongodb.UserByID"

	oid, err := bson.ObjectIDFromHex(userID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, storage.ErrUserNotFound)
	}

	var doc userDoc
	if err := s.users.FindOne(ctx, bson.D{{Key: "_id", Value: oid}}).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, fmt.Errorf("%s: %w", op, storage.ErrUserNotFound)
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return doc.toModel(), nil
}

// SetRefreshToken overwrites the stored refresh token unconditionally. A new
// login supersedes whatever session existed before.
func (s *Storage) SetRefreshToken(ctx context.Context, userID, token string) error {
	const op = "storage.mongodb.SetRefreshToken"

	oid, err := bson.ObjectIDFromHex(userID)
	if err != nil {
		return fmt.Errorf("%s: %w", op, storage.ErrUserNotFound)
	}

	res, err := s.users.UpdateOne(ctx,
		bson.D{{Key: "_id", Value: oid}},
		bson.D{{Key: "$set", Value: bson.D{
			{Key: "refresh_token", Value: token},
			{Key: "updated_at", Value: time.Now()},
		}}},
	)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if res.MatchedCount == 0 {
		return fmt.Errorf("%s: %w", op, storage.ErrUserNotFound)
	}

	return nil
}

// SwapRefreshToken replaces the stored refresh token only if it still equals
// old: the filter carries the expected value, so the equality check and the
// persist are one atomic document update. Of two concurrent rotations with the
// same old token at most one can match.
func (s *Storage) SwapRefreshToken(ctx context.Context, userID, old, new string) error {
	const op = "storage.mongodb.SwapRefreshToken"

	oid, err := bson.ObjectIDFromHex(userID)
	if err != nil {
		return fmt.Errorf("%s: %w", op, storage.ErrUserNotFound)
	}

	res, err := s.users.UpdateOne(ctx,
		bson.D{
			{Key: "_id", Value: oid},
			{Key: "refresh_token", Value: old},
		},
		bson.D{{Key: "$set", Value: bson.D{
			{Key: "refresh_token", Value: new},
			{Key: "updated_at", Value: time.Now()},
		}}},
	)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if res.MatchedCount == 0 {
		return fmt.Errorf("%s: %w", op, storage.ErrTokenMismatch)
	}

	return nil
}

// ClearRefreshToken removes the stored refresh token. Clearing an account
// with no active session is a no-op.
func (s *Storage) ClearRefreshToken(ctx context.Context, userID string) error {
	const op = "storage.mongodb.ClearRefreshToken"

	oid, err := bson.ObjectIDFromHex(userID)
	if err != nil {
		return fmt.Errorf("%s: %w", op, storage.ErrUserNotFound)
	}

	res, err := s.users.UpdateOne(ctx,
		bson.D{{Key: "_id", Value: oid}},
		bson.D{
			{Key: "$unset", Value: bson.D{{Key: "refresh_token", Value: ""}}},
			{Key: "$set", Value: bson.D{{Key: "updated_at", Value: time.Now()}}},
		},
	)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if res.MatchedCount == 0 {
		return fmt.Errorf("%s: %w", op, storage.ErrUserNotFound)
	}

	return nil
}

// UpdatePassword atomically replaces the stored password hash.
func (s *Storage) UpdatePassword(ctx context.Context, userID string, passHash []byte) error {
	const op = "storage.mongodb.UpdatePassword"

	oid, err := bson.ObjectIDFromHex(userID)
	if err != nil {
		return fmt.Errorf("%s: %w", op, storage.ErrUserNotFound)
	}

	res, err := s.users.UpdateOne(ctx,
		bson.D{{Key: "_id", Value: oid}},
		bson.D{{Key: "$set", Value: bson.D{
			{Key: "pass_hash", Value: passHash},
			{Key: "updated_at", Value: time.Now()},
		}}},
	)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if res.MatchedCount == 0 {
		return fmt.Errorf("%s: %w", op, storage.ErrUserNotFound)
	}

	return nil
}

// UpdateDetails atomically sets full name and email and returns the updated user.
func (s *Storage) UpdateDetails(ctx context.Context, userID, fullName, email string) (*models.User, error) {
	const op = "storage.mongodb.UpdateDetails"

	oid, err := bson.ObjectIDFromHex(userID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, storage.ErrUserNotFound)
	}

	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)

	var doc userDoc
	err = s.users.FindOneAndUpdate(ctx,
		bson.D{{Key: "_id", Value: oid}},
		bson.D{{Key: "$set", Value: bson.D{
			{Key: "full_name", Value: fullName},
			{Key: "email", Value: strings.ToLower(email)},
			{Key: "updated_at", Value: time.Now()},
		}}},
		opts,
	).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, fmt.Errorf("%s: %w", op, storage.ErrUserNotFound)
		}
		if isDuplicateKeyError(err) {
			return nil, fmt.Errorf("%s: %w", op, storage.ErrUserExists)
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return doc.toModel(), nil
}

// SwapAssetRef sets the named asset slot to url and returns the reference it
// displaced. The read of the old value and the write of the new one are a
// single findOneAndUpdate, so concurrent replacements each see exactly the
// reference they overwrote.
func (s *Storage) SwapAssetRef(ctx context.Context, userID, slot, url string) (string, error) {
	const op = "storage.mongodb.SwapAssetRef"

	field, err := assetField(slot)
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}

	oid, err := bson.ObjectIDFromHex(userID)
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, storage.ErrUserNotFound)
	}

	opts := options.FindOneAndUpdate().SetReturnDocument(options.Before)

	var doc userDoc
	err = s.users.FindOneAndUpdate(ctx,
		bson.D{{Key: "_id", Value: oid}},
		bson.D{{Key: "$set", Value: bson.D{
			{Key: field, Value: url},
			{Key: "updated_at", Value: time.Now()},
		}}},
		opts,
	).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return "", fmt.Errorf("%s: %w", op, storage.ErrUserNotFound)
		}
		return "", fmt.Errorf("%s: %w", op, err)
	}

	switch field {
	case "avatar":
		return doc.Avatar, nil
	default:
		return doc.CoverImage, nil
	}
}

// SaveVideo inserts a video record and returns its ID.
func (s *Storage) SaveVideo(ctx context.Context, video *models.Video) (string, error) {
	const op = "storage.mongodb.SaveVideo"

	ownerOID, err := bson.ObjectIDFromHex(video.OwnerID)
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, storage.ErrUserNotFound)
	}

	doc := videoDoc{
		Title:       video.Title,
		Description: video.Description,
		VideoFile:   video.VideoFile,
		Thumbnail:   video.Thumbnail,
		Owner:       ownerOID,
		Duration:    video.Duration,
		Views:       video.Views,
		IsPublished: video.IsPublished,
		CreatedAt:   time.Now(),
	}

	res, err := s.videos.InsertOne(ctx, doc)
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}

	oid, ok := res.InsertedID.(bson.ObjectID)
	if !ok {
		return "", fmt.Errorf("%s: unexpected inserted id type %T", op, res.InsertedID)
	}

	return oid.Hex(), nil
}

// SaveSubscription records a subscriber→channel edge.
func (s *Storage) SaveSubscription(ctx context.Context, subscriberID, channelID string) error {
	const op = "storage.mongodb.SaveSubscription"

	subOID, err := bson.ObjectIDFromHex(subscriberID)
	if err != nil {
		return fmt.Errorf("%s: %w", op, storage.ErrUserNotFound)
	}
	chanOID, err := bson.ObjectIDFromHex(channelID)
	if err != nil {
		return fmt.Errorf("%s: %w", op, storage.ErrUserNotFound)
	}

	_, err = s.subscriptions.InsertOne(ctx, bson.D{
		{Key: "subscriber", Value: subOID},
		{Key: "channel", Value: chanOID},
		{Key: "created_at", Value: time.Now()},
	})
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

// AddToWatchHistory prepends a video to the account's watch history, so the
// stored order stays most-recent-first.
func (s *Storage) AddToWatchHistory(ctx context.Context, userID, videoID string) error {
	const op = "storage.mongodb.AddToWatchHistory"

	oid, err := bson.ObjectIDFromHex(userID)
	if err != nil {
		return fmt.Errorf("%s: %w", op, storage.ErrUserNotFound)
	}
	vid, err := bson.ObjectIDFromHex(videoID)
	if err != nil {
		return fmt.Errorf("%s: %w", op, storage.ErrVideoNotFound)
	}

	res, err := s.users.UpdateOne(ctx,
		bson.D{{Key: "_id", Value: oid}},
		bson.D{{Key: "$push", Value: bson.D{
			{Key: "watch_history", Value: bson.D{
				{Key: "$each", Value: bson.A{vid}},
				{Key: "$position", Value: 0},
			}},
		}}},
	)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if res.MatchedCount == 0 {
		return fmt.Errorf("%s: %w", op, storage.ErrUserNotFound)
	}

	return nil
}

func assetField(slot string) (string, error) {
	switch slot {
	case "avatar":
		return "avatar", nil
	case "coverImage":
		return "cover_image", nil
	default:
		return "", fmt.Errorf("unknown asset slot %q", slot)
	}
}

func (d *userDoc) toModel() *models.User {
	history := make([]string, 0, len(d.WatchHistory))
	for _, id := range d.WatchHistory {
		history = append(history, id.Hex())
	}

	return &models.User{
		ID:           d.ID.Hex(),
		Username:     d.Username,
		Email:        d.Email,
		FullName:     d.FullName,
		Avatar:       d.Avatar,
		CoverImage:   d.CoverImage,
		PassHash:     d.PassHash,
		RefreshToken: d.RefreshToken,
		WatchHistory: history,
		CreatedAt:    d.CreatedAt,
		UpdatedAt:    d.UpdatedAt,
	}
}

// isDuplicateKeyError checks if the error is a MongoDB duplicate key error (code 11000).
func isDuplicateKeyError(err error) bool {
	var we mongo.WriteException
	if errors.As(err, &we) {
		for _, e := range we.WriteErrors {
			if e.Code == 11000 {
				return true
			}
		}
	}
	var ce mongo.CommandError
	if errors.As(err, &ce) && ce.Code == 11000 {
		return true
	}
	return false
}
