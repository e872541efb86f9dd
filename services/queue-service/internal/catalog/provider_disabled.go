//go:build !protogen

package catalog

// NewGRPCProvider is compiled out without generated protobuf stubs; callers
// get (nil, nil) and fall back to a StaticProvider.
func NewGRPCProvider(_ string) (Provider, error) {
	return nil, nil
}
