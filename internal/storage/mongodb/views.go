package mongodb

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"

	"vidtube/internal/domain/models"
	"vidtube/internal/storage"
)

type channelProfileDoc struct {
	Username          string    `bson:"username"`
	FullName          string    `bson:"full_name"`
	Email             string    `bson:"email"`
	Avatar            string    `bson:"avatar"`
	CoverImage        string    `bson:"cover_image"`
	SubscriberCount   int64     `bson:"subscriber_count"`
	SubscribedToCount int64     `bson:"subscribed_to_count"`
	IsSubscribed      bool      `bson:"is_subscribed"`
	CreatedAt         time.Time `bson:"created_at"`
}

type ownerDoc struct {
	FullName string `bson:"full_name"`
	Username string `bson:"username"`
	Avatar   string `bson:"avatar"`
}

type watchEntryDoc struct {
	ID          bson.ObjectID `bson:"_id"`
	Title       string        `bson:"title"`
	Description string        `bson:"description"`
	VideoFile   string        `bson:"video_file"`
	Thumbnail   string        `bson:"thumbnail"`
	Duration    float64       `bson:"duration"`
	Views       int64         `bson:"views"`
	Owner       *ownerDoc     `bson:"owner"`
	CreatedAt   time.Time     `bson:"created_at"`
}

type videoListingDoc struct {
	ID          bson.ObjectID `bson:"_id"`
	Title       string        `bson:"title"`
	Description string        `bson:"description"`
	VideoFile   string        `bson:"video_file"`
	Thumbnail   string        `bson:"thumbnail"`
	Duration    float64       `bson:"duration"`
	Views       int64         `bson:"views"`
	IsPublished bool          `bson:"is_published"`
	Owner       *ownerDoc     `bson:"owner"`
	CreatedAt   time.Time     `bson:"created_at"`
}

// ownerLookup joins the owning account and collapses the lookup array into a
// single public-fields document (or absent when the join is empty).
func ownerLookup() []bson.D {
	return []bson.D{
		{{Key: "$lookup", Value: bson.D{
			{Key: "from", Value: "users"},
			{Key: "localField", Value: "owner"},
			{Key: "foreignField", Value: "_id"},
			{Key: "as", Value: "owner"},
			{Key: "pipeline", Value: bson.A{
				bson.D{{Key: "$project", Value: bson.D{
					{Key: "full_name", Value: 1},
					{Key: "username", Value: 1},
					{Key: "avatar", Value: 1},
				}}},
			}},
		}}},
		{{Key: "$addFields", Value: bson.D{
			{Key: "owner", Value: bson.D{{Key: "$first", Value: "$owner"}}},
		}}},
	}
}

// ChannelProfile computes the channel view for viewerID in a single pipeline:
// both counts and the viewer flag come from the same snapshot of the
// subscription edges.
func (s *Storage) ChannelProfile(ctx context.Context, viewerID, username string) (*models.ChannelProfile, error) {
	const op = "storage.mongodb.ChannelProfile"

	// An unparseable viewer ID simply never matches an edge.
	viewerOID, _ := bson.ObjectIDFromHex(viewerID)

	pipeline := mongo.Pipeline{
		bson.D{{Key: "$match", Value: bson.D{
			{Key: "username", Value: strings.ToLower(username)},
		}}},
		bson.D{{Key: "$lookup", Value: bson.D{
			{Key: "from", Value: "subscriptions"},
			{Key: "localField", Value: "_id"},
			{Key: "foreignField", Value: "channel"},
			{Key: "as", Value: "subscribers"},
		}}},
		bson.D{{Key: "$lookup", Value: bson.D{
			{Key: "from", Value: "subscriptions"},
			{Key: "localField", Value: "_id"},
			{Key: "foreignField", Value: "subscriber"},
			{Key: "as", Value: "subscribed_to"},
		}}},
		bson.D{{Key: "$addFields", Value: bson.D{
			{Key: "subscriber_count", Value: bson.D{{Key: "$size", Value: "$subscribers"}}},
			{Key: "subscribed_to_count", Value: bson.D{{Key: "$size", Value: "$subscribed_to"}}},
			{Key: "is_subscribed", Value: bson.D{{Key: "$cond", Value: bson.D{
				{Key: "if", Value: bson.D{{Key: "$in", Value: bson.A{viewerOID, "$subscribers.subscriber"}}}},
				{Key: "then", Value: true},
				{Key: "else", Value: false},
			}}}},
		}}},
		bson.D{{Key: "$project", Value: bson.D{
			{Key: "username", Value: 1},
			{Key: "full_name", Value: 1},
			{Key: "email", Value: 1},
			{Key: "avatar", Value: 1},
			{Key: "cover_image", Value: 1},
			{Key: "subscriber_count", Value: 1},
			{Key: "subscribed_to_count", Value: 1},
			{Key: "is_subscribed", Value: 1},
			{Key: "created_at", Value: 1},
		}}},
	}

	cursor, err := s.users.Aggregate(ctx, pipeline)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	var docs []channelProfileDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if len(docs) == 0 {
		return nil, fmt.Errorf("%s: %w", op, storage.ErrUserNotFound)
	}

	d := docs[0]
	return &models.ChannelProfile{
		Username:          d.Username,
		FullName:          d.FullName,
		Email:             d.Email,
		Avatar:            d.Avatar,
		CoverImage:        d.CoverImage,
		SubscriberCount:   d.SubscriberCount,
		SubscribedToCount: d.SubscribedToCount,
		IsSubscribed:      d.IsSubscribed,
		CreatedAt:         d.CreatedAt,
	}, nil
}

// WatchHistory joins the account's watch-history IDs to their video records,
// each enriched with the owner's public fields. $lookup gives no ordering
// guarantee for array joins, so the entries are re-sequenced against the
// stored ID list before returning.
func (s *Storage) WatchHistory(ctx context.Context, userID string) ([]models.WatchEntry, error) {
	const op = "storage.mongodb.WatchHistory"

	oid, err := bson.ObjectIDFromHex(userID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, storage.ErrUserNotFound)
	}

	subPipeline := bson.A{}
	for _, stage := range ownerLookup() {
		subPipeline = append(subPipeline, stage)
	}

	pipeline := mongo.Pipeline{
		bson.D{{Key: "$match", Value: bson.D{{Key: "_id", Value: oid}}}},
		bson.D{{Key: "$lookup", Value: bson.D{
			{Key: "from", Value: "videos"},
			{Key: "localField", Value: "watch_history"},
			{Key: "foreignField", Value: "_id"},
			{Key: "as", Value: "entries"},
			{Key: "pipeline", Value: subPipeline},
		}}},
		bson.D{{Key: "$project", Value: bson.D{
			{Key: "watch_history", Value: 1},
			{Key: "entries", Value: 1},
		}}},
	}

	cursor, err := s.users.Aggregate(ctx, pipeline)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	var docs []struct {
		WatchHistory []bson.ObjectID `bson:"watch_history"`
		Entries      []watchEntryDoc `bson:"entries"`
	}
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if len(docs) == 0 {
		return nil, fmt.Errorf("%s: %w", op, storage.ErrUserNotFound)
	}

	byID := make(map[bson.ObjectID]watchEntryDoc, len(docs[0].Entries))
	for _, e := range docs[0].Entries {
		byID[e.ID] = e
	}

	entries := make([]models.WatchEntry, 0, len(docs[0].WatchHistory))
	for _, id := range docs[0].WatchHistory {
		e, ok := byID[id]
		if !ok {
			continue
		}
		entries = append(entries, e.toModel())
	}

	return entries, nil
}

// ListVideos returns the video catalog joined with owner public fields.
// ownerID narrows to one channel when non-empty.
func (s *Storage) ListVideos(ctx context.Context, ownerID, sortField string, descending bool, page, limit int64) ([]models.VideoListing, error) {
	const op = "storage.mongodb.ListVideos"

	pipeline := mongo.Pipeline{}

	if ownerID != "" {
		oid, err := bson.ObjectIDFromHex(ownerID)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, storage.ErrUserNotFound)
		}
		pipeline = append(pipeline, bson.D{{Key: "$match", Value: bson.D{{Key: "owner", Value: oid}}}})
	}

	pipeline = append(pipeline, ownerLookup()...)

	order := 1
	if descending {
		order = -1
	}
	pipeline = append(pipeline,
		bson.D{{Key: "$sort", Value: bson.D{{Key: sortField, Value: order}}}},
		bson.D{{Key: "$skip", Value: (page - 1) * limit}},
		bson.D{{Key: "$limit", Value: limit}},
	)

	cursor, err := s.videos.Aggregate(ctx, pipeline)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	var docs []videoListingDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	listings := make([]models.VideoListing, 0, len(docs))
	for _, d := range docs {
		listings = append(listings, d.toModel())
	}

	return listings, nil
}

func (d watchEntryDoc) toModel() models.WatchEntry {
	entry := models.WatchEntry{
		ID:          d.ID.Hex(),
		Title:       d.Title,
		Description: d.Description,
		VideoFile:   d.VideoFile,
		Thumbnail:   d.Thumbnail,
		Duration:    d.Duration,
		Views:       d.Views,
		CreatedAt:   d.CreatedAt,
	}
	if d.Owner != nil {
		entry.Owner = &models.Owner{
			FullName: d.Owner.FullName,
			Username: d.Owner.Username,
			Avatar:   d.Owner.Avatar,
		}
	}
	return entry
}

func (d videoListingDoc) toModel() models.VideoListing {
	listing := models.VideoListing{
		ID:          d.ID.Hex(),
		Title:       d.Title,
		Description: d.Description,
		VideoFile:   d.VideoFile,
		Thumbnail:   d.Thumbnail,
		Duration:    d.Duration,
		Views:       d.Views,
		IsPublished: d.IsPublished,
		CreatedAt:   d.CreatedAt,
	}
	if d.Owner != nil {
		listing.Owner = &models.Owner{
			FullName: d.Owner.FullName,
			Username: d.Owner.Username,
			Avatar:   d.Owner.Avatar,
		}
	}
	return listing
}
