package repository

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"farmmarket/internal/models"
)

type FarmerRepository struct {
	pool *pgxpool.Pool
}

func NewFarmerRepository(pool *pgxpool.Pool) *FarmerRepository {
	return &FarmerRepository{pool: pool}
}

func (r *FarmerRepository) CreateProfile(ctx context.Context, profile models.FarmerProfile) error {
	const query = `
		INSERT INTO farmer_profiles (
			id, user_id, farm_name, bio, specializations, delivery_radius_km, delivery_fee,
			pickup_available, payment_methods, mpesa_number, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, NOW(), NOW()
		)
		ON CONFLICT (user_id) DO NOTHING
	`

	_, err := r.pool.Exec(ctx, query,
		profile.ID,
		profile.UserID,
		profile.FarmName,
		profile.Bio,
		profile.Specializations,
		profile.DeliveryRadiusKm,
		profile.DeliveryFee,
		profile.PickupAvailable,
		paymentMethodStrings(profile.PaymentMethods),
		profile.MpesaNumber,
	)
	return err
}

func (r *FarmerRepository) GetProfileByUserID(ctx context.Context, userID string) (models.FarmerProfile, error) {
	const query = `
		SELECT id, user_id, farm_name, bio, specializations, delivery_radius_km, delivery_fee,
		       pickup_available, payment_methods, mpesa_number, created_at, updated_at
		FROM farmer_profiles
		WHERE user_id = $1
	`

	var (
		profile models.FarmerProfile
		methods []string
	)
	err := r.pool.QueryRow(ctx, query, userID).Scan(
		&profile.ID,
		&profile.UserID,
		&profile.FarmName,
		&profile.Bio,
		&profile.Specializations,
		&profile.DeliveryRadiusKm,
		&profile.DeliveryFee,
		&profile.PickupAvailable,
		&methods,
		&profile.MpesaNumber,
		&profile.CreatedAt,
		&profile.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.FarmerProfile{}, ErrProfileNotFound
		}
		return models.FarmerProfile{}, err
	}

	for _, m := range methods {
		profile.PaymentMethods = append(profile.PaymentMethods, models.PaymentMethod(m))
	}
	return profile, nil
}

func paymentMethodStrings(methods []models.PaymentMethod) []string {
	out := make([]string, 0, len(methods))
	for _, m := range methods {
		out = append(out, string(m))
	}
	return out
}
