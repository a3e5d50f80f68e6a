// Package marketplaceengine contains the listing and sale-settlement engine
// of the digital-asset marketplace: the asset registry, the listing ledger,
// the settlement engine, and the facade composing them.
//
// The module keeps domain/application logic decoupled from runtime/platform
// concerns through ports and adapter composition.
package marketplaceengine
