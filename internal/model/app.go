package model

// AppID identifies one of the two cooperating applications. The pair shares
// one persistence substrate and one logical user identity.
type AppID string

const (
	AppField AppID = "field"
	AppTrade AppID = "trade"
)

func (a AppID) Valid() bool {
	return a == AppField || a == AppTrade
}

// Sibling returns the other application of the pair.
func (a AppID) Sibling() AppID {
	if a == AppField {
		return AppTrade
	}

	return AppField
}

func (a AppID) String() string {
	return string(a)
}
