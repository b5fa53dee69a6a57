package models

import "time"

type PaymentMethod string

const (
	PaymentMethodMpesa        PaymentMethod = "mpesa"
	PaymentMethodCash         PaymentMethod = "cash"
	PaymentMethodBankTransfer PaymentMethod = "bank_transfer"
)

type FarmerProfile struct {
	ID               string          `json:"id"`
	UserID           string          `json:"userId"`
	FarmName         string          `json:"farmName"`
	Bio              string          `json:"bio,omitempty"`
	Specializations  []string        `json:"specializations"`
	DeliveryRadiusKm int             `json:"deliveryRadiusKm"`
	DeliveryFee      float64         `json:"deliveryFee"`
	PickupAvailable  bool            `json:"pickupAvailable"`
	PaymentMethods   []PaymentMethod `json:"paymentMethods"`
	MpesaNumber      string          `json:"mpesaNumber,omitempty"`
	CreatedAt        time.Time       `json:"createdAt"`
	UpdatedAt        time.Time       `json:"updatedAt"`
}

// NewFarmerProfile is the profile every farmer gets at registration.
func NewFarmerProfile(id string, user User) FarmerProfile {
	return FarmerProfile{
		ID:               id,
		UserID:           user.ID,
		FarmName:         user.Name + "'s Farm",
		Specializations:  []string{},
		DeliveryRadiusKm: 10,
		PickupAvailable:  true,
		PaymentMethods:   []PaymentMethod{PaymentMethodMpesa, PaymentMethodCash},
		MpesaNumber:      user.Phone,
	}
}
