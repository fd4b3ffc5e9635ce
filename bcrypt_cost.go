//go:build !race

package admission

func passwordHashCost() int {
	return 14
}
