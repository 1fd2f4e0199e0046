package load

const (
	FruitLabel = "fruit"
)
