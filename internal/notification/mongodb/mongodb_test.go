package mongodb

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/integration/mtest"

	"github.com/austindbirch/harbor_remind/internal/notification"
)

func notificationBSON(id primitive.ObjectID, status string, attempts int, lastError string, sendAt time.Time) bson.D {
	doc := bson.D{
		{Key: "_id", Value: id},
		{Key: "recipientEmail", Value: "owner@example.com"},
		{Key: "title", Value: "Electricity bill"},
		{Key: "providerName", Value: "DESCO"},
		{Key: "amount", Value: 1250.0},
		{Key: "sendAt", Value: sendAt},
		{Key: "dueDate", Value: sendAt.Add(24 * time.Hour)},
		{Key: "channels", Value: bson.A{"email"}},
		{Key: "status", Value: status},
		{Key: "attempts", Value: attempts},
		{Key: "createdAt", Value: sendAt.Add(-48 * time.Hour)},
		{Key: "updatedAt", Value: sendAt},
	}
	if lastError != "" {
		doc = append(doc, bson.E{Key: "lastError", Value: lastError})
	}
	return doc
}

func TestRepository(t *testing.T) {
	mt := mtest.New(t, mtest.NewOptions().ClientType(mtest.Mock))

	sendAt := time.Date(2025, 11, 14, 0, 0, 0, 0, time.UTC)
	ns := "BillManagementDB." + NotificationsCollection

	mt.Run("Insert assigns an ObjectID", func(mt *mtest.T) {
		repo := New(mt.DB)
		mt.AddMockResponses(mtest.CreateSuccessResponse())

		n, err := repo.Insert(context.Background(), notification.Notification{
			RecipientEmail: "owner@example.com",
			Title:          notification.DefaultTitle,
			SendAt:         sendAt,
			Channels:       []notification.Channel{notification.ChannelEmail},
			Status:         notification.StatusPending,
		})
		require.NoError(mt, err)
		_, err = primitive.ObjectIDFromHex(n.ID)
		assert.NoError(mt, err)
	})

	mt.Run("Insert surfaces write errors", func(mt *mtest.T) {
		repo := New(mt.DB)
		mt.AddMockResponses(mtest.CreateWriteErrorsResponse(mtest.WriteError{Index: 0, Code: 11000, Message: "duplicate key"}))

		_, err := repo.Insert(context.Background(), notification.Notification{RecipientEmail: "owner@example.com"})
		assert.True(mt, mongo.IsDuplicateKeyError(err))
	})

	mt.Run("FindByID found", func(mt *mtest.T) {
		repo := New(mt.DB)
		id := primitive.NewObjectID()
		mt.AddMockResponses(mtest.CreateCursorResponse(0, ns, mtest.FirstBatch,
			notificationBSON(id, "pending", 1, "SMTP timeout", sendAt)))

		n, err := repo.FindByID(context.Background(), id.Hex())
		require.NoError(mt, err)
		assert.Equal(mt, id.Hex(), n.ID)
		assert.Equal(mt, notification.StatusPending, n.Status)
		assert.Equal(mt, 1, n.Attempts)
		assert.Equal(mt, "SMTP timeout", n.LastError)
		assert.Equal(mt, []notification.Channel{notification.ChannelEmail}, n.Channels)
		require.NotNil(mt, n.DueDate)
		assert.True(mt, n.DueDate.Equal(sendAt.Add(24*time.Hour)))
		assert.True(mt, n.SendAt.Equal(sendAt))
	})

	mt.Run("FindByID not found", func(mt *mtest.T) {
		repo := New(mt.DB)
		mt.AddMockResponses(mtest.CreateCursorResponse(0, ns, mtest.FirstBatch))

		_, err := repo.FindByID(context.Background(), primitive.NewObjectID().Hex())
		var nf *notification.NotFoundError
		assert.ErrorAs(mt, err, &nf)
	})

	mt.Run("FindByID malformed id", func(mt *mtest.T) {
		repo := New(mt.DB)

		_, err := repo.FindByID(context.Background(), "not-an-object-id")
		var nf *notification.NotFoundError
		assert.ErrorAs(mt, err, &nf)
	})

	mt.Run("FindByRecipient", func(mt *mtest.T) {
		repo := New(mt.DB)
		mt.AddMockResponses(mtest.CreateCursorResponse(0, ns, mtest.FirstBatch,
			notificationBSON(primitive.NewObjectID(), "pending", 0, "", sendAt.Add(24*time.Hour)),
			notificationBSON(primitive.NewObjectID(), "sent", 1, "", sendAt),
		))

		list, err := repo.FindByRecipient(context.Background(), "owner@example.com")
		require.NoError(mt, err)
		require.Len(mt, list, 2)
		assert.Equal(mt, notification.StatusSent, list[1].Status)
	})

	mt.Run("FindDue", func(mt *mtest.T) {
		repo := New(mt.DB)
		mt.AddMockResponses(mtest.CreateCursorResponse(0, ns, mtest.FirstBatch,
			notificationBSON(primitive.NewObjectID(), "pending", 2, "SMTP timeout", sendAt)))

		due, err := repo.FindDue(context.Background(), sendAt.Add(time.Second), 3)
		require.NoError(mt, err)
		require.Len(mt, due, 1)
		assert.Equal(mt, 2, due[0].Attempts)
	})

	mt.Run("FindDue command error", func(mt *mtest.T) {
		repo := New(mt.DB)
		mt.AddMockResponses(mtest.CreateCommandErrorResponse(mtest.CommandError{Code: 13, Message: "unauthorized"}))

		_, err := repo.FindDue(context.Background(), sendAt, 3)
		assert.Error(mt, err)
	})

	mt.Run("UpdateOutcome returns the updated document", func(mt *mtest.T) {
		repo := New(mt.DB)
		id := primitive.NewObjectID()
		mt.AddMockResponses(mtest.CreateSuccessResponse(
			bson.E{Key: "value", Value: notificationBSON(id, "failed", 3, "SMTP timeout", sendAt)},
		))

		n, err := repo.UpdateOutcome(context.Background(), id.Hex(), notification.Failed("SMTP timeout"), 3, sendAt.Add(3*time.Minute))
		require.NoError(mt, err)
		assert.Equal(mt, notification.StatusFailed, n.Status)
		assert.Equal(mt, 3, n.Attempts)
	})

	mt.Run("UpdateStatus", func(mt *mtest.T) {
		repo := New(mt.DB)
		id := primitive.NewObjectID()
		mt.AddMockResponses(mtest.CreateSuccessResponse(
			bson.E{Key: "value", Value: notificationBSON(id, "cancelled", 0, "", sendAt)},
		))

		n, err := repo.UpdateStatus(context.Background(), id.Hex(), notification.StatusCancelled, sendAt)
		require.NoError(mt, err)
		assert.Equal(mt, notification.StatusCancelled, n.Status)
	})

	mt.Run("Attempt log round trip", func(mt *mtest.T) {
		repo := New(mt.DB)
		mt.AddMockResponses(mtest.CreateSuccessResponse())

		saved, err := repo.InsertAttempt(context.Background(), notification.AttemptLog{
			NotificationID: "n-1",
			Channel:        notification.ChannelEmail,
			Outcome:        notification.AttemptSent,
			OccurredAt:     sendAt,
			Detail:         "<receipt@harborremind>",
		})
		require.NoError(mt, err)
		assert.NotEmpty(mt, saved.ID)

		mt.AddMockResponses(mtest.CreateCursorResponse(0, "BillManagementDB."+LogsCollection, mtest.FirstBatch, bson.D{
			{Key: "_id", Value: primitive.NewObjectID()},
			{Key: "notificationId", Value: "n-1"},
			{Key: "channel", Value: "email"},
			{Key: "outcome", Value: "sent"},
			{Key: "occurredAt", Value: sendAt},
			{Key: "detail", Value: "<receipt@harborremind>"},
		}))
		logs, err := repo.FindAttempts(context.Background(), "n-1")
		require.NoError(mt, err)
		require.Len(mt, logs, 1)
		assert.Equal(mt, notification.AttemptSent, logs[0].Outcome)
		assert.Equal(mt, "<receipt@harborremind>", logs[0].Detail)
	})

	mt.Run("EnsureIndexes", func(mt *mtest.T) {
		repo := New(mt.DB)
		mt.AddMockResponses(mtest.CreateSuccessResponse(), mtest.CreateSuccessResponse())

		assert.NoError(mt, repo.EnsureIndexes(context.Background()))
	})

	mt.Run("EnsureIndexes failure", func(mt *mtest.T) {
		repo := New(mt.DB)
		mt.AddMockResponses(mtest.CreateCommandErrorResponse(mtest.CommandError{Code: 85, Message: "index conflict"}))

		err := repo.EnsureIndexes(context.Background())
		var cmdErr mongo.CommandError
		assert.True(mt, errors.As(err, &cmdErr))
	})
}

func TestOutcomePipeline(t *testing.T) {
	now := time.Date(2025, 11, 14, 0, 1, 0, 0, time.UTC)

	setStage := func(p mongo.Pipeline) bson.D {
		require.Len(t, p, 1)
		require.Equal(t, "$set", p[0][0].Key)
		return p[0][0].Value.(bson.D)
	}
	keys := func(d bson.D) []string {
		out := make([]string, 0, len(d))
		for _, e := range d {
			out = append(out, e.Key)
		}
		return out
	}

	success := setStage(outcomePipeline(notification.Succeeded(), 3, now))
	assert.Equal(t, []string{"attempts", "status", "updatedAt"}, keys(success))

	failure := setStage(outcomePipeline(notification.Failed("SMTP timeout"), 3, now))
	assert.Equal(t, []string{"attempts", "status", "updatedAt", "lastError"}, keys(failure))
	assert.Equal(t, bson.D{{Key: "$literal", Value: "SMTP timeout"}}, failure[3].Value)
}
