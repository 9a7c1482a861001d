// Package mongodb stores notifications in the notifications and notificationLogs
// collections of a MongoDB database
package mongodb

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/austindbirch/harbor_remind/internal/notification"
)

const (
	NotificationsCollection = "notifications"
	LogsCollection          = "notificationLogs"
)

type notificationDoc struct {
	ID             primitive.ObjectID `bson:"_id"`
	RecipientEmail string             `bson:"recipientEmail"`
	Title          string             `bson:"title"`
	Message        string             `bson:"message,omitempty"`
	ProviderName   string             `bson:"providerName,omitempty"`
	Amount         *float64           `bson:"amount,omitempty"`
	BillID         string             `bson:"billId,omitempty"`
	SendAt         time.Time          `bson:"sendAt"`
	DueDate        *time.Time         `bson:"dueDate,omitempty"`
	Channels       []string           `bson:"channels"`
	Status         string             `bson:"status"`
	Attempts       int                `bson:"attempts"`
	LastError      string             `bson:"lastError,omitempty"`
	CreatedAt      time.Time          `bson:"createdAt"`
	UpdatedAt      time.Time          `bson:"updatedAt"`
}

type attemptDoc struct {
	ID             primitive.ObjectID `bson:"_id"`
	NotificationID string             `bson:"notificationId"`
	Channel        string             `bson:"channel"`
	Outcome        string             `bson:"outcome"`
	OccurredAt     time.Time          `bson:"occurredAt"`
	Detail         string             `bson:"detail,omitempty"`
}

type Repository struct {
	db            *mongo.Database
	notifications *mongo.Collection
	logs          *mongo.Collection
}

func New(db *mongo.Database) *Repository {
	return &Repository{
		db:            db,
		notifications: db.Collection(NotificationsCollection),
		logs:          db.Collection(LogsCollection),
	}
}

// EnsureIndexes creates the dispatch, listing and attempt-log indexes
func (r *Repository) EnsureIndexes(ctx context.Context) error {
	_, err := r.notifications.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "status", Value: 1}, {Key: "sendAt", Value: 1}}},
		{Keys: bson.D{{Key: "recipientEmail", Value: 1}, {Key: "sendAt", Value: -1}}},
	})
	if err != nil {
		return fmt.Errorf("create notification indexes: %w", err)
	}
	_, err = r.logs.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "notificationId", Value: 1}, {Key: "occurredAt", Value: 1}},
	})
	if err != nil {
		return fmt.Errorf("create attempt log index: %w", err)
	}
	return nil
}

// Ping checks the primary is reachable
func (r *Repository) Ping(ctx context.Context) error {
	return r.db.Client().Ping(ctx, readpref.Primary())
}

func (r *Repository) Insert(ctx context.Context, n notification.Notification) (notification.Notification, error) {
	doc := toDoc(n)
	doc.ID = primitive.NewObjectID()
	if _, err := r.notifications.InsertOne(ctx, doc); err != nil {
		return notification.Notification{}, err
	}
	n.ID = doc.ID.Hex()
	return n, nil
}

func (r *Repository) FindByID(ctx context.Context, id string) (notification.Notification, error) {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return notification.Notification{}, &notification.NotFoundError{ID: id}
	}
	return decodeOne(r.notifications.FindOne(ctx, bson.M{"_id": oid}), id)
}

func (r *Repository) FindByRecipient(ctx context.Context, email string) ([]notification.Notification, error) {
	opts := options.Find().SetSort(bson.D{{Key: "sendAt", Value: -1}, {Key: "createdAt", Value: -1}})
	cur, err := r.notifications.Find(ctx, bson.M{"recipientEmail": email}, opts)
	if err != nil {
		return nil, err
	}
	return decodeAll(ctx, cur)
}

func (r *Repository) FindDue(ctx context.Context, now time.Time, maxAttempts int) ([]notification.Notification, error) {
	filter := bson.M{
		"status":   string(notification.StatusPending),
		"sendAt":   bson.M{"$lte": now},
		"attempts": bson.M{"$lt": maxAttempts},
	}
	cur, err := r.notifications.Find(ctx, filter, options.Find().SetSort(bson.D{{Key: "sendAt", Value: 1}}))
	if err != nil {
		return nil, err
	}
	return decodeAll(ctx, cur)
}

func (r *Repository) UpdateStatus(ctx context.Context, id string, status notification.Status, now time.Time) (notification.Notification, error) {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return notification.Notification{}, &notification.NotFoundError{ID: id}
	}
	update := bson.M{"$set": bson.M{"status": string(status), "updatedAt": now}}
	res := r.notifications.FindOneAndUpdate(ctx, bson.M{"_id": oid}, update,
		options.FindOneAndUpdate().SetReturnDocument(options.After))
	return decodeOne(res, id)
}

// UpdateOutcome runs as one findAndModify with an aggregation pipeline, so
// "$attempts" in the stage refers to the value before the increment
func (r *Repository) UpdateOutcome(ctx context.Context, id string, o notification.Outcome, maxAttempts int, now time.Time) (notification.Notification, error) {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return notification.Notification{}, &notification.NotFoundError{ID: id}
	}
	res := r.notifications.FindOneAndUpdate(ctx, bson.M{"_id": oid}, outcomePipeline(o, maxAttempts, now),
		options.FindOneAndUpdate().SetReturnDocument(options.After))
	return decodeOne(res, id)
}

func outcomePipeline(o notification.Outcome, maxAttempts int, now time.Time) mongo.Pipeline {
	nextAttempts := bson.D{{Key: "$add", Value: bson.A{"$attempts", 1}}}
	status := bson.D{{Key: "$switch", Value: bson.D{
		{Key: "branches", Value: bson.A{
			bson.D{
				{Key: "case", Value: bson.D{{Key: "$ne", Value: bson.A{"$status", string(notification.StatusPending)}}}},
				{Key: "then", Value: "$status"},
			},
			bson.D{{Key: "case", Value: o.Success}, {Key: "then", Value: string(notification.StatusSent)}},
			bson.D{
				{Key: "case", Value: bson.D{{Key: "$gte", Value: bson.A{nextAttempts, maxAttempts}}}},
				{Key: "then", Value: string(notification.StatusFailed)},
			},
		}},
		{Key: "default", Value: string(notification.StatusPending)},
	}}}

	set := bson.D{
		{Key: "attempts", Value: nextAttempts},
		{Key: "status", Value: status},
		{Key: "updatedAt", Value: now},
	}
	if !o.Success {
		set = append(set, bson.E{Key: "lastError", Value: bson.D{{Key: "$literal", Value: o.Error}}})
	}
	return mongo.Pipeline{{{Key: "$set", Value: set}}}
}

func (r *Repository) InsertAttempt(ctx context.Context, a notification.AttemptLog) (notification.AttemptLog, error) {
	doc := attemptDoc{
		ID:             primitive.NewObjectID(),
		NotificationID: a.NotificationID,
		Channel:        string(a.Channel),
		Outcome:        string(a.Outcome),
		OccurredAt:     a.OccurredAt,
		Detail:         a.Detail,
	}
	if _, err := r.logs.InsertOne(ctx, doc); err != nil {
		return notification.AttemptLog{}, err
	}
	a.ID = doc.ID.Hex()
	return a, nil
}

func (r *Repository) FindAttempts(ctx context.Context, notificationID string) ([]notification.AttemptLog, error) {
	opts := options.Find().SetSort(bson.D{{Key: "occurredAt", Value: 1}, {Key: "_id", Value: 1}})
	cur, err := r.logs.Find(ctx, bson.M{"notificationId": notificationID}, opts)
	if err != nil {
		return nil, err
	}
	var docs []attemptDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("decode attempt logs: %w", err)
	}
	out := make([]notification.AttemptLog, 0, len(docs))
	for _, d := range docs {
		out = append(out, notification.AttemptLog{
			ID:             d.ID.Hex(),
			NotificationID: d.NotificationID,
			Channel:        notification.Channel(d.Channel),
			Outcome:        notification.AttemptOutcome(d.Outcome),
			OccurredAt:     d.OccurredAt.UTC(),
			Detail:         d.Detail,
		})
	}
	return out, nil
}

func decodeOne(res *mongo.SingleResult, id string) (notification.Notification, error) {
	var doc notificationDoc
	if err := res.Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return notification.Notification{}, &notification.NotFoundError{ID: id}
		}
		return notification.Notification{}, err
	}
	return fromDoc(doc), nil
}

func decodeAll(ctx context.Context, cur *mongo.Cursor) ([]notification.Notification, error) {
	var docs []notificationDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("decode notifications: %w", err)
	}
	out := make([]notification.Notification, 0, len(docs))
	for _, d := range docs {
		out = append(out, fromDoc(d))
	}
	return out, nil
}

func toDoc(n notification.Notification) notificationDoc {
	channels := make([]string, 0, len(n.Channels))
	for _, c := range n.Channels {
		channels = append(channels, string(c))
	}
	return notificationDoc{
		RecipientEmail: n.RecipientEmail,
		Title:          n.Title,
		Message:        n.Message,
		ProviderName:   n.ProviderName,
		Amount:         n.Amount,
		BillID:         n.BillID,
		SendAt:         n.SendAt,
		DueDate:        n.DueDate,
		Channels:       channels,
		Status:         string(n.Status),
		Attempts:       n.Attempts,
		LastError:      n.LastError,
		CreatedAt:      n.CreatedAt,
		UpdatedAt:      n.UpdatedAt,
	}
}

func fromDoc(d notificationDoc) notification.Notification {
	channels := make([]notification.Channel, 0, len(d.Channels))
	for _, c := range d.Channels {
		channels = append(channels, notification.Channel(c))
	}
	var due *time.Time
	if d.DueDate != nil {
		t := d.DueDate.UTC()
		due = &t
	}
	return notification.Notification{
		ID:             d.ID.Hex(),
		RecipientEmail: d.RecipientEmail,
		Title:          d.Title,
		Message:        d.Message,
		ProviderName:   d.ProviderName,
		Amount:         d.Amount,
		BillID:         d.BillID,
		SendAt:         d.SendAt.UTC(),
		DueDate:        due,
		Channels:       channels,
		Status:         notification.Status(d.Status),
		Attempts:       d.Attempts,
		LastError:      d.LastError,
		CreatedAt:      d.CreatedAt.UTC(),
		UpdatedAt:      d.UpdatedAt.UTC(),
	}
}
