package mongodb

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/mamadbah2/buildmart/internal/domain/models"
)

const (
	dailyReportsCollection   = "daily_reports"
	securityEventsCollection = "security_events"
)

// Repository stores daily platform snapshots and the security audit trail.
type Repository struct {
	client *mongo.Client
	db     *mongo.Database
}

// NewRepository connects to MongoDB and verifies the connection.
func NewRepository(ctx context.Context, uri string, dbName string) (*Repository, error) {
	clientOptions := options.Client().ApplyURI(uri)
	client, err := mongo.Connect(ctx, clientOptions)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to mongodb: %w", err)
	}

	// Ping the database to verify connection
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("failed to ping mongodb: %w", err)
	}

	return newRepository(client, dbName), nil
}

func newRepository(client *mongo.Client, dbName string) *Repository {
	return &Repository{client: client, db: client.Database(dbName)}
}

// EnsureIndexes creates the indexes the queries below rely on.
func (r *Repository) EnsureIndexes(ctx context.Context) error {
	_, err := r.db.Collection(dailyReportsCollection).Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "date", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		return fmt.Errorf("failed to index daily reports: %w", err)
	}
	_, err = r.db.Collection(securityEventsCollection).Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "created_at", Value: -1}}},
		{Keys: bson.D{{Key: "kind", Value: 1}, {Key: "created_at", Value: -1}}},
	})
	if err != nil {
		return fmt.Errorf("failed to index security events: %w", err)
	}
	return nil
}

// SaveDailyReport stores the snapshot for its day, replacing an earlier run.
func (r *Repository) SaveDailyReport(ctx context.Context, report models.DailyReport) error {
	collection := r.db.Collection(dailyReportsCollection)
	_, err := collection.ReplaceOne(ctx,
		bson.M{"date": report.Date},
		report,
		options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("failed to save daily report: %w", err)
	}
	return nil
}

// LatestDailyReport returns the most recent snapshot.
func (r *Repository) LatestDailyReport(ctx context.Context) (models.DailyReport, error) {
	var report models.DailyReport
	err := r.db.Collection(dailyReportsCollection).
		FindOne(ctx, bson.M{}, options.FindOne().SetSort(bson.D{{Key: "date", Value: -1}})).
		Decode(&report)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return models.DailyReport{}, fmt.Errorf("%w: no daily report yet", models.ErrNotFound)
		}
		return models.DailyReport{}, fmt.Errorf("failed to load latest daily report: %w", err)
	}
	return report, nil
}

// ListDailyReports returns snapshots whose date falls in [from, to), oldest first.
func (r *Repository) ListDailyReports(ctx context.Context, from, to time.Time) ([]models.DailyReport, error) {
	cursor, err := r.db.Collection(dailyReportsCollection).Find(ctx,
		bson.M{"date": bson.M{"$gte": from, "$lt": to}},
		options.Find().SetSort(bson.D{{Key: "date", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("failed to query daily reports: %w", err)
	}
	var reports []models.DailyReport
	if err := cursor.All(ctx, &reports); err != nil {
		return nil, fmt.Errorf("failed to decode daily reports: %w", err)
	}
	return reports, nil
}

// InsertSecurityEvent appends an event to the audit trail.
func (r *Repository) InsertSecurityEvent(ctx context.Context, event models.SecurityEvent) error {
	if _, err := r.db.Collection(securityEventsCollection).InsertOne(ctx, event); err != nil {
		return fmt.Errorf("failed to insert security event: %w", err)
	}
	return nil
}

// RecentSecurityEvents returns up to limit events, newest first. An empty
// kind matches every event.
func (r *Repository) RecentSecurityEvents(ctx context.Context, limit int, kind models.SecurityEventKind) ([]models.SecurityEvent, error) {
	filter := bson.M{}
	if kind != "" {
		filter["kind"] = kind
	}
	cursor, err := r.db.Collection(securityEventsCollection).Find(ctx, filter,
		options.Find().
			SetSort(bson.D{{Key: "created_at", Value: -1}}).
			SetLimit(int64(limit)))
	if err != nil {
		return nil, fmt.Errorf("failed to query security events: %w", err)
	}
	var events []models.SecurityEvent
	if err := cursor.All(ctx, &events); err != nil {
		return nil, fmt.Errorf("failed to decode security events: %w", err)
	}
	return events, nil
}

// CountSecurityEvents counts events created in [from, to).
func (r *Repository) CountSecurityEvents(ctx context.Context, from, to time.Time) (int, error) {
	n, err := r.db.Collection(securityEventsCollection).CountDocuments(ctx,
		bson.M{"created_at": bson.M{"$gte": from, "$lt": to}})
	if err != nil {
		return 0, fmt.Errorf("failed to count security events: %w", err)
	}
	return int(n), nil
}

// Close closes the MongoDB connection.
func (r *Repository) Close(ctx context.Context) error {
	return r.client.Disconnect(ctx)
}
