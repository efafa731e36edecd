package marketplace

// Operator is the privileged identity allowed to change the fee rate. It is
// also where fees are paid.
type Operator interface {
	IsOperator(id string) bool
	Address() string
}

// FixedOperator is an Operator that is a single identity.
type FixedOperator string

func (o FixedOperator) IsOperator(id string) bool { return id != "" && id == string(o) }
func (o FixedOperator) Address() string           { return string(o) }
