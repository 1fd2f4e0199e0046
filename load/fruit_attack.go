package load

import (
	"context"

	"github.com/skudasov/shopload"
)

const FruitPath = "/shop/products/"

// FruitAttack one simulated shop visitor listing products.
// It declares no wait time, handle wait_time config applies.
type FruitAttack struct {
	shopload.WithRunner
	session *shopload.HTTPSession
}

func (a *FruitAttack) Setup(hc shopload.RunnerConfig) error {
	s, err := a.NewSession()
	if err != nil {
		return err
	}
	a.session = s
	return nil
}

// Do issues GET <target>/shop/products/, the response is not inspected
func (a *FruitAttack) Do(ctx context.Context) shopload.DoResult {
	return a.session.Get(ctx, FruitLabel, FruitPath)
}

func (a *FruitAttack) Clone(r *shopload.Runner) shopload.Attack {
	return &FruitAttack{WithRunner: shopload.WithRunner{R: r}}
}
