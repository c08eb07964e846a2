package mongodb

import (
	"context"
	"errors"
	"fmt"
	"time"

	"card-ledger/internal/storages"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const duplicateKeyCode = 11000

// SaveEventBatch сохраняет пакет событий неупорядоченной вставкой
func (s *MongoStorage) SaveEventBatch(ctx context.Context, events []storages.TransferEvent) (int, error) {
	if len(events) == 0 {
		return 0, nil
	}

	documents := make([]interface{}, len(events))
	now := time.Now()
	for i := range events {
		events[i].ProcessedAt = now
		documents[i] = events[i]
	}

	_, err := s.collection.InsertMany(ctx, documents, options.InsertMany().SetOrdered(false))
	if err == nil {
		s.logger.Infof("Saved batch of %d events", len(events))
		return len(events), nil
	}

	duplicates, onlyDuplicates := countDuplicates(err)
	if !onlyDuplicates {
		s.logger.Errorf("Failed to save event batch: %v", err)
		return 0, fmt.Errorf("failed to save event batch: %w", err)
	}

	inserted := len(events) - duplicates
	s.logger.Infof("Saved batch of %d events, skipped %d duplicates", inserted, duplicates)
	return inserted, nil
}

// countDuplicates считает ошибки дубликата ключа в пакетной вставке и сообщает,
// были ли другие ошибки
func countDuplicates(err error) (int, bool) {
	var bwe mongo.BulkWriteException
	if !errors.As(err, &bwe) || bwe.WriteConcernError != nil || len(bwe.WriteErrors) == 0 {
		return 0, false
	}
	for _, we := range bwe.WriteErrors {
		if we.Code != duplicateKeyCode {
			return 0, false
		}
	}
	return len(bwe.WriteErrors), true
}

// GetEventsByUser получает события пользователя, от новых к старым
func (s *MongoStorage) GetEventsByUser(ctx context.Context, userID int64, limit int) ([]storages.TransferEvent, error) {
	opts := options.Find().SetSort(bson.D{{Key: "timestamp", Value: -1}})
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}

	events, err := s.find(ctx, bson.M{"user_id": userID}, opts)
	if err != nil {
		return nil, err
	}

	s.logger.Debugf("Retrieved %d events for user %d", len(events), userID)
	return events, nil
}

// GetRecentEvents получает последние обработанные события
func (s *MongoStorage) GetRecentEvents(ctx context.Context, limit int) ([]storages.TransferEvent, error) {
	opts := options.Find().SetSort(bson.D{{Key: "processed_at", Value: -1}})
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}
	return s.find(ctx, bson.M{}, opts)
}

func (s *MongoStorage) find(ctx context.Context, filter bson.M, opts *options.FindOptions) ([]storages.TransferEvent, error) {
	cursor, err := s.collection.Find(ctx, filter, opts)
	if err != nil {
		s.logger.Errorf("Failed to query events: %v", err)
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer cursor.Close(ctx)

	var events []storages.TransferEvent
	if err := cursor.All(ctx, &events); err != nil {
		s.logger.Errorf("Failed to decode events: %v", err)
		return nil, fmt.Errorf("failed to decode events: %w", err)
	}
	return events, nil
}

// GetStatistics возвращает статистику архива
func (s *MongoStorage) GetStatistics(ctx context.Context) (*storages.EventStatistics, error) {
	pipeline := mongo.Pipeline{
		{{Key: "$group", Value: bson.M{
			"_id":               nil,
			"total_processed":   bson.M{"$sum": 1},
			"total_usd":         bson.M{"$sum": bson.M{"$toDouble": "$usd_equivalent"}},
			"average_usd":       bson.M{"$avg": bson.M{"$toDouble": "$usd_equivalent"}},
			"last_processed_at": bson.M{"$max": "$processed_at"},
		}}},
	}

	cursor, err := s.collection.Aggregate(ctx, pipeline)
	if err != nil {
		s.logger.Errorf("Failed to get statistics: %v", err)
		return nil, fmt.Errorf("failed to get statistics: %w", err)
	}
	defer cursor.Close(ctx)

	var results []storages.EventStatistics
	if err := cursor.All(ctx, &results); err != nil {
		s.logger.Errorf("Failed to decode statistics: %v", err)
		return nil, fmt.Errorf("failed to decode statistics: %w", err)
	}

	stats := &storages.EventStatistics{}
	if len(results) > 0 {
		*stats = results[0]
	}

	s.logger.Debugf("Statistics: Processed=%d, TotalUSD=%.2f", stats.TotalProcessed, stats.TotalUSD)
	return stats, nil
}
