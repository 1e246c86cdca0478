//go:build production

package cli

func registerAdmin(*App) {}
