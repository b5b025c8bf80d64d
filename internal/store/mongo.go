package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/AnshRaj112/loanhub-backend/internal/auth"
	"github.com/AnshRaj112/loanhub-backend/internal/models"
)

const (
	usersCollection = "users"
	phoneIndex      = "uniq_phone"
)

// publicProjection leaves out every credential field.
var publicProjection = bson.D{
	{Key: "password_hash", Value: 0},
	{Key: "password_changed_at", Value: 0},
	{Key: "password_history", Value: 0},
	{Key: "failed_login_attempts", Value: 0},
	{Key: "lock_until", Value: 0},
	{Key: "refresh_token_hash", Value: 0},
	{Key: "refresh_token_expiry", Value: 0},
	{Key: "otp_hash", Value: 0},
	{Key: "otp_expiry", Value: 0},
	{Key: "otp_attempts", Value: 0},
	{Key: "reset_token_hash", Value: 0},
	{Key: "reset_token_expiry", Value: 0},
}

type MongoStore struct {
	users *mongo.Collection
}

var _ CredentialStore = (*MongoStore)(nil)

func NewMongoStore(db *mongo.Database) *MongoStore {
	return &MongoStore{users: db.Collection(usersCollection)}
}

// EnsureIndexes creates the unique email and phone indexes and the reset
// token lookup index. Called on startup from main after Mongo has connected.
// Phone is omitted from documents that have none, so the sparse unique index
// only constrains identities that registered a number.
func (s *MongoStore) EnsureIndexes(ctx context.Context) error {
	models := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "email", Value: 1}},
			Options: options.Index().SetName("uniq_email").SetUnique(true),
		},
		{
			Keys:    bson.D{{Key: "phone", Value: 1}},
			Options: options.Index().SetName(phoneIndex).SetUnique(true).SetSparse(true),
		},
		{
			Keys:    bson.D{{Key: "reset_token_hash", Value: 1}},
			Options: options.Index().SetName("idx_reset_token").SetSparse(true),
		},
	}
	if _, err := s.users.Indexes().CreateMany(ctx, models); err != nil {
		return fmt.Errorf("create user indexes: %w", err)
	}
	return nil
}

func (s *MongoStore) Create(ctx context.Context, user *models.User) error {
	if user.ID.IsZero() {
		user.ID = primitive.NewObjectID()
	}
	if _, err := s.users.InsertOne(ctx, user); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return duplicateKeyError(err)
		}
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

// duplicateKeyError tells the phone index apart from the email index by the
// index name the server reports.
func duplicateKeyError(err error) error {
	var we mongo.WriteException
	if errors.As(err, &we) {
		for _, e := range we.WriteErrors {
			if e.Code == 11000 && strings.Contains(e.Message, phoneIndex) {
				return ErrDuplicatePhone
			}
		}
	}
	return ErrDuplicateEmail
}

func (s *MongoStore) FindByID(ctx context.Context, id string) (*models.User, error) {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return nil, ErrNotFound
	}
	return s.findOne(ctx, bson.M{"_id": oid}, options.FindOne().SetProjection(publicProjection))
}

func (s *MongoStore) FindByIDWithSecrets(ctx context.Context, id string) (*models.User, error) {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return nil, ErrNotFound
	}
	return s.findOne(ctx, bson.M{"_id": oid})
}

func (s *MongoStore) FindByEmailWithSecrets(ctx context.Context, email string) (*models.User, error) {
	return s.findOne(ctx, bson.M{"email": email})
}

func (s *MongoStore) FindByPhoneWithSecrets(ctx context.Context, phone string) (*models.User, error) {
	return s.findOne(ctx, bson.M{"phone": phone})
}

func (s *MongoStore) FindByResetToken(ctx context.Context, tokenHash string, now time.Time) (*models.User, error) {
	return s.findOne(ctx, bson.M{
		"reset_token_hash":   tokenHash,
		"reset_token_expiry": bson.M{"$gt": now},
	})
}

func (s *MongoStore) findOne(ctx context.Context, filter bson.M, opts ...*options.FindOneOptions) (*models.User, error) {
	var user models.User
	if err := s.users.FindOne(ctx, filter, opts...).Decode(&user); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("find user: %w", err)
	}
	return &user, nil
}

// RecordLoginFailure applies LockoutPolicy.OnFailure as one pipeline update
// so concurrent failures cannot lose increments.
func (s *MongoStore) RecordLoginFailure(ctx context.Context, id string, policy auth.LockoutPolicy, now time.Time) (auth.LockoutState, error) {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return auth.LockoutState{}, ErrNotFound
	}

	lockExpired := bson.D{{Key: "$and", Value: bson.A{
		bson.D{{Key: "$ne", Value: bson.A{bson.D{{Key: "$ifNull", Value: bson.A{"$lock_until", nil}}}, nil}}},
		bson.D{{Key: "$lte", Value: bson.A{"$lock_until", now}}},
	}}}

	pipeline := mongo.Pipeline{
		{{Key: "$set", Value: bson.D{
			{Key: "failed_login_attempts", Value: bson.D{{Key: "$cond", Value: bson.A{
				lockExpired,
				1,
				bson.D{{Key: "$add", Value: bson.A{bson.D{{Key: "$ifNull", Value: bson.A{"$failed_login_attempts", 0}}}, 1}}},
			}}}},
			{Key: "updated_at", Value: now},
		}}},
		// lock_until is untouched by the first stage, so lockExpired still
		// sees the pre-update value here.
		{{Key: "$set", Value: bson.D{
			{Key: "lock_until", Value: bson.D{{Key: "$cond", Value: bson.A{
				lockExpired,
				"$$REMOVE",
				bson.D{{Key: "$cond", Value: bson.A{
					bson.D{{Key: "$gte", Value: bson.A{"$failed_login_attempts", policy.Threshold}}},
					now.Add(policy.Duration),
					bson.D{{Key: "$ifNull", Value: bson.A{"$lock_until", "$$REMOVE"}}},
				}}},
			}}}},
		}}},
	}

	opts := options.FindOneAndUpdate().
		SetReturnDocument(options.After).
		SetProjection(bson.D{{Key: "failed_login_attempts", Value: 1}, {Key: "lock_until", Value: 1}})

	var out struct {
		FailedLoginAttempts int        `bson:"failed_login_attempts"`
		LockUntil           *time.Time `bson:"lock_until"`
	}
	if err := s.users.FindOneAndUpdate(ctx, bson.M{"_id": oid}, pipeline, opts).Decode(&out); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return auth.LockoutState{}, ErrNotFound
		}
		return auth.LockoutState{}, fmt.Errorf("record login failure: %w", err)
	}
	return auth.LockoutState{FailedAttempts: out.FailedLoginAttempts, LockUntil: out.LockUntil}, nil
}

func (s *MongoStore) RecordLoginSuccess(ctx context.Context, id string, now time.Time) error {
	return s.updateByID(ctx, id, bson.M{
		"$set":   bson.M{"failed_login_attempts": 0, "last_login_at": now, "updated_at": now},
		"$unset": bson.M{"lock_until": ""},
	})
}

func (s *MongoStore) UpdatePassword(ctx context.Context, id string, update PasswordUpdate, now time.Time) error {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return ErrNotFound
	}

	doc := bson.M{
		"$set": bson.M{
			"password_hash":       update.NewHash,
			"password_changed_at": now,
			"updated_at":          now,
		},
		"$push": bson.M{
			"password_history": bson.M{
				"$each":  bson.A{models.PasswordHistoryEntry{Hash: update.CurrentHash, ChangedAt: now}},
				"$slice": -update.HistorySize,
			},
		},
	}
	if update.ClearCredentials {
		doc["$unset"] = bson.M{
			"reset_token_hash":     "",
			"reset_token_expiry":   "",
			"refresh_token_hash":   "",
			"refresh_token_expiry": "",
		}
	}

	res, err := s.users.UpdateOne(ctx, bson.M{"_id": oid, "password_hash": update.CurrentHash}, doc)
	if err != nil {
		return fmt.Errorf("update password: %w", err)
	}
	if res.MatchedCount == 0 {
		return ErrConflict
	}
	return nil
}

func (s *MongoStore) SetRefreshToken(ctx context.Context, id, tokenHash string, expiresAt time.Time) error {
	return s.updateByID(ctx, id, bson.M{"$set": bson.M{
		"refresh_token_hash":   tokenHash,
		"refresh_token_expiry": expiresAt,
	}})
}

func (s *MongoStore) ClearRefreshToken(ctx context.Context, id string) error {
	return s.updateByID(ctx, id, bson.M{"$unset": bson.M{
		"refresh_token_hash":   "",
		"refresh_token_expiry": "",
	}})
}

func (s *MongoStore) SetResetToken(ctx context.Context, id, tokenHash string, expiresAt time.Time) error {
	return s.updateByID(ctx, id, bson.M{"$set": bson.M{
		"reset_token_hash":   tokenHash,
		"reset_token_expiry": expiresAt,
	}})
}

func (s *MongoStore) SetOTP(ctx context.Context, id, otpHash string, expiresAt time.Time) error {
	return s.updateByID(ctx, id, bson.M{"$set": bson.M{
		"otp_hash":     otpHash,
		"otp_expiry":   expiresAt,
		"otp_attempts": 0,
	}})
}

func (s *MongoStore) ConsumeOTP(ctx context.Context, id, otpHash string, now time.Time) (bool, error) {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return false, ErrNotFound
	}
	res, err := s.users.UpdateOne(ctx,
		bson.M{"_id": oid, "otp_hash": otpHash, "otp_expiry": bson.M{"$gt": now}},
		bson.M{"$unset": bson.M{"otp_hash": "", "otp_expiry": "", "otp_attempts": ""}},
	)
	if err != nil {
		return false, fmt.Errorf("consume otp: %w", err)
	}
	return res.ModifiedCount == 1, nil
}

func (s *MongoStore) RecordOTPFailure(ctx context.Context, id string, maxAttempts int) (int, error) {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return 0, ErrNotFound
	}

	exhausted := bson.D{{Key: "$gte", Value: bson.A{"$otp_attempts", maxAttempts}}}
	pipeline := mongo.Pipeline{
		{{Key: "$set", Value: bson.D{
			{Key: "otp_attempts", Value: bson.D{{Key: "$add", Value: bson.A{bson.D{{Key: "$ifNull", Value: bson.A{"$otp_attempts", 0}}}, 1}}}},
		}}},
		{{Key: "$set", Value: bson.D{
			{Key: "otp_hash", Value: bson.D{{Key: "$cond", Value: bson.A{exhausted, "$$REMOVE", "$otp_hash"}}}},
			{Key: "otp_expiry", Value: bson.D{{Key: "$cond", Value: bson.A{exhausted, "$$REMOVE", "$otp_expiry"}}}},
		}}},
	}

	opts := options.FindOneAndUpdate().
		SetReturnDocument(options.After).
		SetProjection(bson.D{{Key: "otp_attempts", Value: 1}})

	var out struct {
		OTPAttempts int `bson:"otp_attempts"`
	}
	err = s.users.FindOneAndUpdate(ctx, bson.M{"_id": oid, "otp_hash": bson.M{"$exists": true}}, pipeline, opts).Decode(&out)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return 0, nil
		}
		return 0, fmt.Errorf("record otp failure: %w", err)
	}
	return out.OTPAttempts, nil
}

func (s *MongoStore) MarkVerified(ctx context.Context, id string, email, phone bool) error {
	set := bson.M{}
	if email {
		set["email_verified"] = true
	}
	if phone {
		set["phone_verified"] = true
	}
	if len(set) == 0 {
		return nil
	}
	return s.updateByID(ctx, id, bson.M{"$set": set})
}

func (s *MongoStore) UpsertSession(ctx context.Context, id string, session models.Session, maxSessions int) error {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return ErrNotFound
	}

	sessionDoc := bson.D{{Key: "$literal", Value: session}}
	fingerprint := bson.D{{Key: "$literal", Value: session.DeviceFingerprint}}
	current := bson.D{{Key: "$ifNull", Value: bson.A{"$active_sessions", bson.A{}}}}

	pipeline := mongo.Pipeline{
		{{Key: "$set", Value: bson.D{
			{Key: "active_sessions", Value: bson.D{{Key: "$cond", Value: bson.A{
				bson.D{{Key: "$in", Value: bson.A{fingerprint, bson.D{{Key: "$map", Value: bson.D{
					{Key: "input", Value: current},
					{Key: "in", Value: "$$this.device_fingerprint"},
				}}}}}},
				bson.D{{Key: "$map", Value: bson.D{
					{Key: "input", Value: current},
					{Key: "in", Value: bson.D{{Key: "$cond", Value: bson.A{
						bson.D{{Key: "$eq", Value: bson.A{"$$this.device_fingerprint", fingerprint}}},
						sessionDoc,
						"$$this",
					}}}},
				}}},
				bson.D{{Key: "$slice", Value: bson.A{
					bson.D{{Key: "$concatArrays", Value: bson.A{current, bson.A{sessionDoc}}}},
					-maxSessions,
				}}},
			}}}},
		}}},
	}

	res, err := s.users.UpdateOne(ctx, bson.M{"_id": oid}, pipeline)
	if err != nil {
		return fmt.Errorf("upsert session: %w", err)
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *MongoStore) RemoveSession(ctx context.Context, id, fingerprint string) error {
	return s.updateByID(ctx, id, bson.M{"$pull": bson.M{
		"active_sessions": bson.M{"device_fingerprint": fingerprint},
	}})
}

func (s *MongoStore) ClearSessions(ctx context.Context, id string) error {
	return s.updateByID(ctx, id, bson.M{"$set": bson.M{"active_sessions": bson.A{}}})
}

func (s *MongoStore) SetActive(ctx context.Context, id string, active bool, status models.OnboardingStatus) error {
	set := bson.M{"is_active": active, "updated_at": time.Now().UTC()}
	if status != "" {
		set["onboarding_status"] = status
	}
	return s.updateByID(ctx, id, bson.M{"$set": set})
}

func (s *MongoStore) SetRole(ctx context.Context, id string, role models.Role) error {
	return s.updateByID(ctx, id, bson.M{"$set": bson.M{"role": role, "updated_at": time.Now().UTC()}})
}

func (s *MongoStore) updateByID(ctx context.Context, id string, update bson.M) error {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return ErrNotFound
	}
	res, err := s.users.UpdateOne(ctx, bson.M{"_id": oid}, update)
	if err != nil {
		return fmt.Errorf("update user: %w", err)
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}
