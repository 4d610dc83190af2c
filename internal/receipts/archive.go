// Package receipts keeps an archive of sale receipts in MongoDB, fed from
// the POS event stream.
package receipts

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fjod/go_pos/internal/domain"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const CollectionName = "receipts"

var ErrReceiptNotFound = errors.New("receipt not found")

func ConnectMongoDB(ctx context.Context, uri, database string) (*mongo.Database, error) {
	clientOpts := options.Client().
		ApplyURI(uri).
		SetConnectTimeout(10 * time.Second).
		SetServerSelectionTimeout(5 * time.Second).
		SetMaxPoolSize(20)

	client, err := mongo.Connect(ctx, clientOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}

	if err := client.Ping(ctx, nil); err != nil {
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	return client.Database(database), nil
}

type LineDocument struct {
	ProductID   int64  `bson:"product_id"`
	ProductName string `bson:"product_name"`
	Quantity    int    `bson:"quantity"`
	UnitPrice   string `bson:"unit_price"`
	LineTotal   string `bson:"line_total"`
}

// Document is an archived receipt. Amounts are kept as decimal strings.
type Document struct {
	SaleID        string         `bson:"sale_id"`
	DisplayNumber int64          `bson:"display_number"`
	LocationID    int64          `bson:"location_id"`
	OperatorID    int64          `bson:"operator_id"`
	PaymentMethod string         `bson:"payment_method"`
	Lines         []LineDocument `bson:"lines"`
	Net           string         `bson:"net"`
	Tax           string         `bson:"tax"`
	Total         string         `bson:"total"`
	CompletedAt   time.Time      `bson:"completed_at"`
	ArchivedAt    time.Time      `bson:"archived_at"`
}

func FromSaleCompleted(ev *domain.SaleCompletedEvent) *Document {
	tax := domain.SplitInclusiveTax(ev.Total)
	doc := &Document{
		SaleID:        ev.SaleID,
		DisplayNumber: ev.DisplayNumber,
		LocationID:    ev.LocationID,
		OperatorID:    ev.OperatorID,
		PaymentMethod: ev.PaymentMethod.String(),
		Lines:         make([]LineDocument, 0, len(ev.Lines)),
		Net:           tax.Net.StringFixed(2),
		Tax:           tax.Tax.StringFixed(2),
		Total:         ev.Total.StringFixed(2),
		CompletedAt:   ev.CompletedAt.UTC(),
	}
	for _, l := range ev.Lines {
		doc.Lines = append(doc.Lines, LineDocument{
			ProductID:   l.ProductID,
			ProductName: l.ProductName,
			Quantity:    l.Quantity,
			UnitPrice:   l.UnitPrice.StringFixed(2),
			LineTotal:   l.LineTotal.StringFixed(2),
		})
	}
	return doc
}

type Archive struct {
	collection *mongo.Collection
}

func NewArchive(db *mongo.Database) *Archive {
	return &Archive{collection: db.Collection(CollectionName)}
}

// Upsert stores the receipt keyed by sale id, so a replayed event rewrites
// the same document.
func (a *Archive) Upsert(ctx context.Context, doc *Document) error {
	doc.ArchivedAt = time.Now().UTC()

	filter := bson.M{"sale_id": doc.SaleID}
	update := bson.M{"$set": doc}
	opts := options.Update().SetUpsert(true)

	if _, err := a.collection.UpdateOne(ctx, filter, update, opts); err != nil {
		return fmt.Errorf("failed to upsert receipt: %w", err)
	}
	return nil
}

func (a *Archive) Get(ctx context.Context, saleID string) (*Document, error) {
	var doc Document
	err := a.collection.FindOne(ctx, bson.M{"sale_id": saleID}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrReceiptNotFound
		}
		return nil, fmt.Errorf("failed to get receipt: %w", err)
	}
	return &doc, nil
}

// ListByLocation returns the newest receipts of a location first.
func (a *Archive) ListByLocation(ctx context.Context, locationID int64, limit int64) ([]*Document, error) {
	opts := options.Find().
		SetSort(bson.D{{Key: "completed_at", Value: -1}}).
		SetLimit(limit)

	cur, err := a.collection.Find(ctx, bson.M{"location_id": locationID}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list receipts: %w", err)
	}
	defer cur.Close(ctx)

	docs := []*Document{}
	if err := cur.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("failed to decode receipts: %w", err)
	}
	return docs, nil
}

func (a *Archive) Delete(ctx context.Context, saleID string) error {
	result, err := a.collection.DeleteOne(ctx, bson.M{"sale_id": saleID})
	if err != nil {
		return fmt.Errorf("failed to delete receipt: %w", err)
	}
	if result.DeletedCount == 0 {
		return ErrReceiptNotFound
	}
	return nil
}

func (a *Archive) CreateIndexes(ctx context.Context) error {
	indexes := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "sale_id", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{
			Keys: bson.D{{Key: "location_id", Value: 1}, {Key: "completed_at", Value: -1}},
		},
	}

	if _, err := a.collection.Indexes().CreateMany(ctx, indexes); err != nil {
		return fmt.Errorf("failed to create indexes: %w", err)
	}
	return nil
}
