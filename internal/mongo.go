package internal

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"regexp"
	"time"

	"evcsms/internal/config"
	"evcsms/models"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const (
	collectionSysLog        = "sys_log"
	collectionMessageLog    = "message_log"
	collectionChargePoints  = "charge_points"
	collectionTransactions  = "transactions"
	collectionMeterValues   = "meter_values"
	collectionSubscriptions = "subscriptions"
	collectionAlerts        = "alerts"
)

type MongoDB struct {
	ctx           context.Context
	clientOptions *options.ClientOptions
	database      string
}

func NewMongoClient(conf *config.Config) (*MongoDB, error) {
	if !conf.Mongo.Enabled {
		return nil, nil
	}
	connectionUri := fmt.Sprintf("mongodb://%s:%s", conf.Mongo.Host, conf.Mongo.Port)
	clientOptions := options.Client().ApplyURI(connectionUri)
	if conf.Mongo.User != "" {
		clientOptions.SetAuth(options.Credential{
			Username:   conf.Mongo.User,
			Password:   conf.Mongo.Password,
			AuthSource: conf.Mongo.Database,
		})
	}
	client := &MongoDB{
		ctx:           context.Background(),
		clientOptions: clientOptions,
		database:      conf.Mongo.Database,
	}
	return client, nil
}

func (m *MongoDB) connect() (*mongo.Client, error) {
	connection, err := mongo.Connect(m.ctx, m.clientOptions)
	if err != nil {
		return nil, err
	}
	return connection, nil
}

func (m *MongoDB) disconnect(connection *mongo.Client) {
	err := connection.Disconnect(m.ctx)
	if err != nil {
		log.Println("mongodb disconnect error;", err)
	}
}

func (m *MongoDB) insert(table string, data interface{}) error {
	connection, err := m.connect()
	if err != nil {
		return err
	}
	defer m.disconnect(connection)
	collection := connection.Database(m.database).Collection(table)
	_, err = collection.InsertOne(m.ctx, data)
	return err
}

func (m *MongoDB) WriteLogMessage(data Data) error {
	return m.insert(collectionSysLog, data)
}

func (m *MongoDB) GetChargePoint(id string) (*models.ChargePoint, error) {
	connection, err := m.connect()
	if err != nil {
		return nil, err
	}
	defer m.disconnect(connection)

	filter := bson.D{{"charge_point_id", id}}
	collection := connection.Database(m.database).Collection(collectionChargePoints)
	var chargePoint models.ChargePoint
	err = collection.FindOne(m.ctx, filter).Decode(&chargePoint)
	if err != nil {
		return nil, err
	}
	return &chargePoint, nil
}

func (m *MongoDB) SaveChargePoint(chargePoint *models.ChargePoint) error {
	connection, err := m.connect()
	if err != nil {
		return err
	}
	defer m.disconnect(connection)

	filter := bson.D{{"charge_point_id", chargePoint.Id}}
	update := bson.M{"$set": chargePoint}
	collection := connection.Database(m.database).Collection(collectionChargePoints)
	_, err = collection.UpdateOne(m.ctx, filter, update, options.Update().SetUpsert(true))
	return err
}

func (m *MongoDB) AddLogEntry(entry *models.LogEntry) error {
	entry.PayloadText = string(entry.Payload)
	return m.insert(collectionMessageLog, entry)
}

func logFilter(filter models.LogFilter) bson.D {
	query := bson.D{}
	if filter.ChargePointId != "" {
		query = append(query, bson.E{Key: "charge_point_id", Value: bson.D{{"$regex", "^" + regexp.QuoteMeta(filter.ChargePointId)}}})
	}
	if filter.MessageType != "" {
		query = append(query, bson.E{Key: "message_type", Value: filter.MessageType})
	}
	if filter.Direction != "" {
		query = append(query, bson.E{Key: "direction", Value: filter.Direction})
	}
	if filter.Action != "" {
		query = append(query, bson.E{Key: "action", Value: filter.Action})
	}
	return query
}

func (m *MongoDB) GetLogEntries(filter models.LogFilter, limit, offset int) ([]*models.LogEntry, int64, error) {
	connection, err := m.connect()
	if err != nil {
		return nil, 0, err
	}
	defer m.disconnect(connection)

	collection := connection.Database(m.database).Collection(collectionMessageLog)
	query := logFilter(filter)
	total, err := collection.CountDocuments(m.ctx, query)
	if err != nil {
		return nil, 0, fmt.Errorf("count log entries: %w", err)
	}
	opts := options.Find().
		SetSort(bson.D{{"created_at", -1}, {"_id", -1}}).
		SetSkip(int64(offset)).
		SetLimit(int64(limit))
	cursor, err := collection.Find(m.ctx, query, opts)
	if err != nil {
		return nil, 0, err
	}
	entries := make([]*models.LogEntry, 0)
	if err = cursor.All(m.ctx, &entries); err != nil {
		return nil, 0, err
	}
	for _, entry := range entries {
		if entry.PayloadText != "" && json.Valid([]byte(entry.PayloadText)) {
			entry.Payload = json.RawMessage(entry.PayloadText)
		}
	}
	return entries, total, nil
}

func (m *MongoDB) GetMessageTypes() ([]string, error) {
	connection, err := m.connect()
	if err != nil {
		return nil, err
	}
	defer m.disconnect(connection)

	collection := connection.Database(m.database).Collection(collectionMessageLog)
	values, err := collection.Distinct(m.ctx, "action", bson.D{{"action", bson.D{{"$ne", ""}}}})
	if err != nil {
		return nil, err
	}
	types := make([]string, 0, len(values))
	for _, value := range values {
		if s, ok := value.(string); ok {
			types = append(types, s)
		}
	}
	return types, nil
}

func (m *MongoDB) GetLogTimes(from, to time.Time) ([]time.Time, error) {
	connection, err := m.connect()
	if err != nil {
		return nil, err
	}
	defer m.disconnect(connection)

	collection := connection.Database(m.database).Collection(collectionMessageLog)
	filter := bson.D{{"created_at", bson.D{{"$gte", from}, {"$lte", to}}}}
	opts := options.Find().SetProjection(bson.D{{"created_at", 1}})
	cursor, err := collection.Find(m.ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	var rows []struct {
		CreatedAt time.Time `bson:"created_at"`
	}
	if err = cursor.All(m.ctx, &rows); err != nil {
		return nil, err
	}
	times := make([]time.Time, len(rows))
	for i, row := range rows {
		times[i] = row.CreatedAt
	}
	return times, nil
}

func (m *MongoDB) GetConnectionLog(to time.Time) ([]*models.LogEntry, error) {
	connection, err := m.connect()
	if err != nil {
		return nil, err
	}
	defer m.disconnect(connection)

	collection := connection.Database(m.database).Collection(collectionMessageLog)
	filter := bson.D{
		{"message_type", bson.D{{"$in", bson.A{models.MessageTypeConnection, models.MessageTypeDisconnection}}}},
		{"created_at", bson.D{{"$lte", to}}},
	}
	opts := options.Find().
		SetSort(bson.D{{"created_at", 1}, {"_id", 1}}).
		SetProjection(bson.D{{"charge_point_id", 1}, {"message_type", 1}, {"created_at", 1}})
	cursor, err := collection.Find(m.ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	entries := make([]*models.LogEntry, 0)
	if err = cursor.All(m.ctx, &entries); err != nil {
		return nil, err
	}
	return entries, nil
}

type maxResult struct {
	Max int `bson:"max"`
}

// GetLastTransactionId returns the highest numeric transaction id, ids assigned by
// stations that are not numbers are skipped
func (m *MongoDB) GetLastTransactionId() (int, error) {
	connection, err := m.connect()
	if err != nil {
		return 0, err
	}
	defer m.disconnect(connection)

	collection := connection.Database(m.database).Collection(collectionTransactions)
	pipeline := bson.A{
		bson.D{
			{"$group",
				bson.D{
					{"_id", nil},
					{"max", bson.D{{"$max", bson.D{{"$convert", bson.D{
						{"input", "$transaction_id"},
						{"to", "int"},
						{"onError", 0},
						{"onNull", 0},
					}}}}}},
				},
			},
		},
	}
	cursor, err := collection.Aggregate(m.ctx, pipeline)
	if err != nil {
		return 0, fmt.Errorf("aggregate transaction id: %v", err)
	}
	var result []maxResult
	if err = cursor.All(m.ctx, &result); err != nil {
		return 0, fmt.Errorf("decode transaction id: %v", err)
	}
	if len(result) == 0 {
		return 0, nil
	}
	return result[0].Max, nil
}

func (m *MongoDB) AddTransaction(transaction *models.Transaction) error {
	return m.insert(collectionTransactions, transaction)
}

func (m *MongoDB) UpdateTransaction(transaction *models.Transaction) error {
	connection, err := m.connect()
	if err != nil {
		return err
	}
	defer m.disconnect(connection)

	filter := bson.D{{"transaction_id", transaction.TransactionId}, {"charge_point_id", transaction.ChargePointId}}
	update := bson.M{"$set": transaction}
	collection := connection.Database(m.database).Collection(collectionTransactions)
	_, err = collection.UpdateOne(m.ctx, filter, update, options.Update().SetUpsert(true))
	return err
}

func (m *MongoDB) findTransactions(filter bson.D) ([]*models.Transaction, error) {
	connection, err := m.connect()
	if err != nil {
		return nil, err
	}
	defer m.disconnect(connection)

	collection := connection.Database(m.database).Collection(collectionTransactions)
	opts := options.Find().SetSort(bson.D{{"time_start", 1}})
	cursor, err := collection.Find(m.ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	var transactions []*models.Transaction
	if err = cursor.All(m.ctx, &transactions); err != nil {
		return nil, err
	}
	return transactions, nil
}

func (m *MongoDB) GetActiveTransactions() ([]*models.Transaction, error) {
	return m.findTransactions(bson.D{{"status", models.TransactionInProgress}})
}

func (m *MongoDB) GetFinishedTransactions(from, to time.Time) ([]*models.Transaction, error) {
	filter := bson.D{
		{"status", bson.D{{"$ne", models.TransactionInProgress}}},
		{"time_start", bson.D{{"$gte", from}, {"$lte", to}}},
	}
	return m.findTransactions(filter)
}

func (m *MongoDB) AddTransactionMeter(meter *models.TransactionMeter) error {
	return m.insert(collectionMeterValues, meter)
}

// GetSubscriptions returns all subscriptions
func (m *MongoDB) GetSubscriptions() ([]models.UserSubscription, error) {
	connection, err := m.connect()
	if err != nil {
		return nil, err
	}
	defer m.disconnect(connection)

	filter := bson.D{}
	collection := connection.Database(m.database).Collection(collectionSubscriptions)
	cursor, err := collection.Find(m.ctx, filter)
	if err != nil {
		return nil, err
	}
	var subscriptions []models.UserSubscription
	if err = cursor.All(m.ctx, &subscriptions); err != nil {
		return nil, err
	}
	return subscriptions, nil
}

// GetSubscription returns a subscription by user id
func (m *MongoDB) GetSubscription(id int) (*models.UserSubscription, error) {
	connection, err := m.connect()
	if err != nil {
		return nil, err
	}
	defer m.disconnect(connection)

	filter := bson.D{{"user_id", id}}
	collection := connection.Database(m.database).Collection(collectionSubscriptions)
	var subscription models.UserSubscription
	err = collection.FindOne(m.ctx, filter).Decode(&subscription)
	if err != nil {
		return nil, err
	}
	return &subscription, nil
}

// AddSubscription adds a new subscription
func (m *MongoDB) AddSubscription(subscription *models.UserSubscription) error {
	existedSubscription, _ := m.GetSubscription(subscription.UserID)
	if existedSubscription != nil {
		return fmt.Errorf("user is already subscribed")
	}
	return m.insert(collectionSubscriptions, subscription)
}

// DeleteSubscription deletes a subscription
func (m *MongoDB) DeleteSubscription(subscription *models.UserSubscription) error {
	connection, err := m.connect()
	if err != nil {
		return err
	}
	defer m.disconnect(connection)

	filter := bson.D{{"user_id", subscription.UserID}}
	collection := connection.Database(m.database).Collection(collectionSubscriptions)
	_, err = collection.DeleteOne(m.ctx, filter)
	return err
}

func (m *MongoDB) AddAlert(alert *models.Alert) error {
	return m.insert(collectionAlerts, alert)
}

func alertFilter(filter models.AlertFilter) bson.D {
	query := bson.D{}
	if filter.ChargePointId != "" {
		query = append(query, bson.E{Key: "charge_point_id", Value: filter.ChargePointId})
	}
	if filter.Severity != "" {
		query = append(query, bson.E{Key: "severity", Value: filter.Severity})
	}
	if !filter.IncludeAcknowledged {
		query = append(query, bson.E{Key: "acknowledged", Value: false})
	}
	return query
}

func (m *MongoDB) GetAlerts(filter models.AlertFilter, limit, offset int) ([]*models.Alert, int64, error) {
	connection, err := m.connect()
	if err != nil {
		return nil, 0, err
	}
	defer m.disconnect(connection)

	collection := connection.Database(m.database).Collection(collectionAlerts)
	query := alertFilter(filter)
	total, err := collection.CountDocuments(m.ctx, query)
	if err != nil {
		return nil, 0, fmt.Errorf("count alerts: %w", err)
	}
	opts := options.Find().
		SetSort(bson.D{{"created_at", -1}, {"_id", -1}}).
		SetSkip(int64(offset)).
		SetLimit(int64(limit))
	cursor, err := collection.Find(m.ctx, query, opts)
	if err != nil {
		return nil, 0, err
	}
	alerts := make([]*models.Alert, 0)
	if err = cursor.All(m.ctx, &alerts); err != nil {
		return nil, 0, err
	}
	return alerts, total, nil
}

type alertGroup struct {
	Type         models.AlertType     `bson:"type"`
	Severity     models.AlertSeverity `bson:"severity"`
	Acknowledged bool                 `bson:"acknowledged"`
	Count        int                  `bson:"count"`
}

func (m *MongoDB) GetAlertStats() (*models.AlertStats, error) {
	connection, err := m.connect()
	if err != nil {
		return nil, err
	}
	defer m.disconnect(connection)

	collection := connection.Database(m.database).Collection(collectionAlerts)
	pipeline := bson.A{
		bson.D{{"$group", bson.D{
			{"_id", bson.D{{"type", "$type"}, {"severity", "$severity"}, {"acknowledged", "$acknowledged"}}},
			{"count", bson.D{{"$sum", 1}}},
		}}},
		bson.D{{"$project", bson.D{
			{"type", "$_id.type"},
			{"severity", "$_id.severity"},
			{"acknowledged", "$_id.acknowledged"},
			{"count", 1},
		}}},
	}
	cursor, err := collection.Aggregate(m.ctx, pipeline)
	if err != nil {
		return nil, err
	}
	var groups []alertGroup
	if err = cursor.All(m.ctx, &groups); err != nil {
		return nil, err
	}
	stats := models.NewAlertStats()
	for _, group := range groups {
		stats.Total += group.Count
		if !group.Acknowledged {
			stats.Unacknowledged += group.Count
		}
		stats.BySeverity[group.Severity] += group.Count
		stats.ByType[group.Type] += group.Count
	}
	return stats, nil
}

func (m *MongoDB) AcknowledgeAlert(id string, at time.Time) error {
	connection, err := m.connect()
	if err != nil {
		return err
	}
	defer m.disconnect(connection)

	collection := connection.Database(m.database).Collection(collectionAlerts)
	filter := bson.D{{"alert_id", id}}
	update := bson.D{{"$set", bson.D{{"acknowledged", true}, {"acknowledged_at", at}}}}
	result, err := collection.UpdateOne(m.ctx, filter, update)
	if err != nil {
		return err
	}
	if result.MatchedCount == 0 {
		return models.ErrAlertNotFound
	}
	return nil
}
