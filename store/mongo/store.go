// Package mongo implements market.Store on MongoDB.
//
// Purchase sets live on both the user and the book document and are
// maintained with $addToSet, so a repeated grant is a no-op. Status changes
// use a filtered findOneAndUpdate, which is atomic per document.
package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/warp/bookstore/market"
)

// Collection name constants.
const (
	colUsers        = "bookstore_users"
	colBooks        = "bookstore_books"
	colTransactions = "bookstore_transactions"
)

var (
	_ market.Store    = (*Store)(nil)
	_ market.Resetter = (*Store)(nil)
)

// Store implements market.Store using the official MongoDB driver.
type Store struct {
	client *mongo.Client
	db     *mongo.Database
}

// New connects to uri, pings, and ensures indexes on database.
func New(ctx context.Context, uri, database string) (*Store, error) {
	client, err := mongo.Connect(options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("bookstore/mongo: connect: %w", err)
	}
	s := &Store{client: client, db: client.Database(database)}

	if err := s.Ping(ctx); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("bookstore/mongo: ping: %w", err)
	}
	if err := s.Migrate(ctx); err != nil {
		_ = client.Disconnect(ctx)
		return nil, err
	}
	return s, nil
}

// Migrate creates indexes for all collections.
func (s *Store) Migrate(ctx context.Context) error {
	for col, models := range migrationIndexes() {
		if _, err := s.db.Collection(col).Indexes().CreateMany(ctx, models); err != nil {
			return fmt.Errorf("bookstore/mongo: migrate %s indexes: %w", col, err)
		}
	}
	return nil
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx, nil)
}

// Close disconnects the client.
func (s *Store) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}

// Reset removes all documents, keeping indexes.
func (s *Store) Reset(ctx context.Context) error {
	for _, col := range []string{colUsers, colBooks, colTransactions} {
		if _, err := s.db.Collection(col).DeleteMany(ctx, bson.D{}); err != nil {
			return fmt.Errorf("bookstore/mongo: reset %s: %w", col, err)
		}
	}
	return nil
}

// ==================== User Store ====================

func (s *Store) CreateUser(ctx context.Context, u *market.User) error {
	_, err := s.db.Collection(colUsers).InsertOne(ctx, toUserModel(u))
	if mongo.IsDuplicateKeyError(err) {
		return market.ErrDuplicateEmail
	}
	if err != nil {
		return fmt.Errorf("bookstore/mongo: create user: %w", err)
	}
	return nil
}

func (s *Store) GetUser(ctx context.Context, id string) (*market.User, error) {
	return s.findUser(ctx, bson.M{"_id": id})
}

func (s *Store) GetUserByEmail(ctx context.Context, email string) (*market.User, error) {
	return s.findUser(ctx, bson.M{"email": market.NormalizeEmail(email)})
}

func (s *Store) GetUserByResetToken(ctx context.Context, tokenHash string, now time.Time) (*market.User, error) {
	return s.findUser(ctx, bson.M{
		"reset_token_hash": tokenHash,
		"reset_expires":    bson.M{"$gt": now},
	})
}

func (s *Store) UpdateUser(ctx context.Context, u *market.User) error {
	m := toUserModel(u)
	res, err := s.db.Collection(colUsers).UpdateOne(ctx, bson.M{"_id": m.ID}, bson.M{"$set": bson.M{
		"email":            m.Email,
		"password_hash":    m.PasswordHash,
		"name":             m.Name,
		"role":             m.Role,
		"active":           m.Active,
		"avatar":           m.Avatar,
		"customer_ref":     m.CustomerRef,
		"last_login":       m.LastLogin,
		"reset_token_hash": m.ResetTokenHash,
		"reset_expires":    m.ResetExpires,
		"updated_at":       m.UpdatedAt,
	}})
	if mongo.IsDuplicateKeyError(err) {
		return market.ErrDuplicateEmail
	}
	if err != nil {
		return fmt.Errorf("bookstore/mongo: update user: %w", err)
	}
	if res.MatchedCount == 0 {
		return market.ErrUserNotFound
	}
	return nil
}

func (s *Store) DeleteUser(ctx context.Context, id string) error {
	res, err := s.db.Collection(colUsers).DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return fmt.Errorf("bookstore/mongo: delete user: %w", err)
	}
	if res.DeletedCount == 0 {
		return market.ErrUserNotFound
	}
	_, err = s.db.Collection(colBooks).UpdateMany(ctx,
		bson.M{"purchased_by": id},
		bson.M{"$pull": bson.M{"purchased_by": id}},
	)
	if err != nil {
		return fmt.Errorf("bookstore/mongo: unlink user purchases: %w", err)
	}
	return nil
}

func (s *Store) ListUsers(ctx context.Context) ([]market.User, error) {
	cursor, err := s.db.Collection(colUsers).Find(ctx, bson.D{},
		options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}}))
	if err != nil {
		return nil, fmt.Errorf("bookstore/mongo: list users: %w", err)
	}
	var models []userModel
	if err := cursor.All(ctx, &models); err != nil {
		return nil, fmt.Errorf("bookstore/mongo: list users: %w", err)
	}

	users := make([]market.User, len(models))
	for i := range models {
		users[i] = *fromUserModel(&models[i])
	}
	return users, nil
}

func (s *Store) findUser(ctx context.Context, filter bson.M) (*market.User, error) {
	var m userModel
	err := s.db.Collection(colUsers).FindOne(ctx, filter).Decode(&m)
	if isNoDocuments(err) {
		return nil, market.ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("bookstore/mongo: get user: %w", err)
	}
	return fromUserModel(&m), nil
}

// ==================== Book Store ====================

func (s *Store) CreateBook(ctx context.Context, b *market.Book) error {
	if _, err := s.db.Collection(colBooks).InsertOne(ctx, toBookModel(b)); err != nil {
		return fmt.Errorf("bookstore/mongo: create book: %w", err)
	}
	return nil
}

func (s *Store) GetBook(ctx context.Context, id string) (*market.Book, error) {
	var m bookModel
	err := s.db.Collection(colBooks).FindOne(ctx, bson.M{"_id": id}).Decode(&m)
	if isNoDocuments(err) {
		return nil, market.ErrBookNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("bookstore/mongo: get book: %w", err)
	}
	return fromBookModel(&m), nil
}

func (s *Store) UpdateBook(ctx context.Context, b *market.Book) error {
	m := toBookModel(b)
	res, err := s.db.Collection(colBooks).UpdateOne(ctx, bson.M{"_id": m.ID}, bson.M{"$set": bson.M{
		"title":          m.Title,
		"author":         m.Author,
		"description":    m.Description,
		"price_amount":   m.PriceAmount,
		"price_currency": m.PriceCurrency,
		"cover_url":      m.CoverURL,
		"content_url":    m.ContentURL,
		"category":       m.Category,
		"seller_id":      m.SellerID,
		"updated_at":     m.UpdatedAt,
	}})
	if err != nil {
		return fmt.Errorf("bookstore/mongo: update book: %w", err)
	}
	if res.MatchedCount == 0 {
		return market.ErrBookNotFound
	}
	return nil
}

func (s *Store) DeleteBook(ctx context.Context, id string) error {
	res, err := s.db.Collection(colBooks).DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return fmt.Errorf("bookstore/mongo: delete book: %w", err)
	}
	if res.DeletedCount == 0 {
		return market.ErrBookNotFound
	}
	_, err = s.db.Collection(colUsers).UpdateMany(ctx,
		bson.M{"purchased_books": id},
		bson.M{"$pull": bson.M{"purchased_books": id}},
	)
	if err != nil {
		return fmt.Errorf("bookstore/mongo: unlink book purchases: %w", err)
	}
	return nil
}

func (s *Store) ListBooks(ctx context.Context, f market.BookFilter) ([]market.Book, error) {
	filter := bson.M{}
	if f.Category != "" {
		filter["category"] = f.Category
	}
	if f.Author != "" {
		filter["author"] = f.Author
	}
	if f.SellerID != "" {
		filter["seller_id"] = f.SellerID
	}
	if f.MinPrice != nil || f.MaxPrice != nil {
		price := bson.M{}
		if f.MinPrice != nil {
			price["$gte"] = *f.MinPrice
		}
		if f.MaxPrice != nil {
			price["$lte"] = *f.MaxPrice
		}
		filter["price_amount"] = price
	}

	cursor, err := s.db.Collection(colBooks).Find(ctx, filter,
		options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}}))
	if err != nil {
		return nil, fmt.Errorf("bookstore/mongo: list books: %w", err)
	}
	var models []bookModel
	if err := cursor.All(ctx, &models); err != nil {
		return nil, fmt.Errorf("bookstore/mongo: list books: %w", err)
	}

	books := make([]market.Book, len(models))
	for i := range models {
		books[i] = *fromBookModel(&models[i])
	}
	return books, nil
}

// ==================== Transaction Store ====================

func (s *Store) CreateTransaction(ctx context.Context, tx *market.Transaction) error {
	if _, err := s.db.Collection(colTransactions).InsertOne(ctx, toTransactionModel(tx)); err != nil {
		return fmt.Errorf("bookstore/mongo: create transaction: %w", err)
	}
	return nil
}

func (s *Store) AttachSession(ctx context.Context, txID, sessionID string, at time.Time) error {
	res, err := s.db.Collection(colTransactions).UpdateOne(ctx,
		bson.M{"_id": txID, "session_id": bson.M{"$exists": false}},
		bson.M{"$set": bson.M{"session_id": sessionID, "updated_at": at}},
	)
	if err != nil {
		return fmt.Errorf("bookstore/mongo: attach session: %w", err)
	}
	if res.MatchedCount > 0 {
		return nil
	}
	return s.missingOr(ctx, txID, market.ErrSessionAlreadyAttached)
}

func (s *Store) GetTransaction(ctx context.Context, id string) (*market.Transaction, error) {
	return s.findTransaction(ctx, bson.M{"_id": id})
}

func (s *Store) FindBySession(ctx context.Context, sessionID string) (*market.Transaction, error) {
	return s.findTransaction(ctx, bson.M{"session_id": sessionID})
}

func (s *Store) ListTransactions(ctx context.Context, f market.TransactionFilter) ([]market.Transaction, error) {
	filter := bson.M{}
	if f.BuyerID != "" {
		filter["buyer_id"] = f.BuyerID
	}
	if f.Status != "" {
		filter["status"] = string(f.Status)
	}
	if f.CreatedBefore != nil {
		filter["created_at"] = bson.M{"$lt": *f.CreatedBefore}
	}

	cursor, err := s.db.Collection(colTransactions).Find(ctx, filter,
		options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}, {Key: "_id", Value: -1}}))
	if err != nil {
		return nil, fmt.Errorf("bookstore/mongo: list transactions: %w", err)
	}
	var models []transactionModel
	if err := cursor.All(ctx, &models); err != nil {
		return nil, fmt.Errorf("bookstore/mongo: list transactions: %w", err)
	}

	txs := make([]market.Transaction, len(models))
	for i := range models {
		txs[i] = *fromTransactionModel(&models[i])
	}
	return txs, nil
}

func (s *Store) TransitionStatus(ctx context.Context, id string, to market.Status, paymentIntentID string, at time.Time) (*market.Transaction, error) {
	set := bson.M{"status": string(to), "updated_at": at}
	if paymentIntentID != "" {
		set["payment_intent_id"] = paymentIntentID
	}

	var m transactionModel
	err := s.db.Collection(colTransactions).FindOneAndUpdate(ctx,
		bson.M{"_id": id, "status": string(market.StatusPending)},
		bson.M{"$set": set},
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&m)
	if isNoDocuments(err) {
		return nil, s.missingOr(ctx, id, market.ErrNotPending)
	}
	if err != nil {
		return nil, fmt.Errorf("bookstore/mongo: transition transaction: %w", err)
	}
	return fromTransactionModel(&m), nil
}

func (s *Store) findTransaction(ctx context.Context, filter bson.M) (*market.Transaction, error) {
	var m transactionModel
	err := s.db.Collection(colTransactions).FindOne(ctx, filter).Decode(&m)
	if isNoDocuments(err) {
		return nil, market.ErrTransactionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("bookstore/mongo: get transaction: %w", err)
	}
	return fromTransactionModel(&m), nil
}

func (s *Store) missingOr(ctx context.Context, id string, conditionErr error) error {
	n, err := s.db.Collection(colTransactions).CountDocuments(ctx, bson.M{"_id": id},
		options.Count().SetLimit(1))
	if err != nil {
		return fmt.Errorf("bookstore/mongo: count transaction: %w", err)
	}
	if n == 0 {
		return market.ErrTransactionNotFound
	}
	return conditionErr
}

// ==================== Entitlement Store ====================

// GrantEntitlement checks the book first so a missing book never leaves a
// dangling id on the user document.
func (s *Store) GrantEntitlement(ctx context.Context, buyerID, bookID string) error {
	n, err := s.db.Collection(colBooks).CountDocuments(ctx, bson.M{"_id": bookID},
		options.Count().SetLimit(1))
	if err != nil {
		return fmt.Errorf("bookstore/mongo: grant entitlement: %w", err)
	}
	if n == 0 {
		return market.ErrBookNotFound
	}

	res, err := s.db.Collection(colUsers).UpdateOne(ctx,
		bson.M{"_id": buyerID},
		bson.M{"$addToSet": bson.M{"purchased_books": bookID}},
	)
	if err != nil {
		return fmt.Errorf("bookstore/mongo: grant entitlement: %w", err)
	}
	if res.MatchedCount == 0 {
		return market.ErrUserNotFound
	}

	res, err = s.db.Collection(colBooks).UpdateOne(ctx,
		bson.M{"_id": bookID},
		bson.M{"$addToSet": bson.M{"purchased_by": buyerID}},
	)
	if err != nil {
		return fmt.Errorf("bookstore/mongo: grant entitlement: %w", err)
	}
	if res.MatchedCount == 0 {
		return market.ErrBookNotFound
	}
	return nil
}

// ==================== Helpers ====================

// isNoDocuments checks if an error wraps mongo.ErrNoDocuments.
func isNoDocuments(err error) bool {
	return errors.Is(err, mongo.ErrNoDocuments)
}

// migrationIndexes returns the index definitions for all collections.
func migrationIndexes() map[string][]mongo.IndexModel {
	return map[string][]mongo.IndexModel{
		colUsers: {
			{
				Keys:    bson.D{{Key: "email", Value: 1}},
				Options: options.Index().SetUnique(true),
			},
			{Keys: bson.D{{Key: "reset_token_hash", Value: 1}}},
			{Keys: bson.D{{Key: "created_at", Value: -1}}},
		},
		colBooks: {
			{Keys: bson.D{{Key: "category", Value: 1}, {Key: "created_at", Value: -1}}},
			{Keys: bson.D{{Key: "seller_id", Value: 1}}},
			{Keys: bson.D{{Key: "purchased_by", Value: 1}}},
		},
		colTransactions: {
			{
				Keys: bson.D{{Key: "session_id", Value: 1}},
				Options: options.Index().SetUnique(true).
					SetPartialFilterExpression(bson.M{"session_id": bson.M{"$exists": true}}),
			},
			{Keys: bson.D{{Key: "buyer_id", Value: 1}, {Key: "created_at", Value: -1}}},
			{Keys: bson.D{{Key: "status", Value: 1}, {Key: "created_at", Value: 1}}},
		},
	}
}
