package downloads

import (
	"github.com/harmonia-player/harmonia/internal/domain"
	"github.com/harmonia-player/harmonia/internal/store"
)

// PolicySource answers the cache policy for a library, or inherit to
// pass the decision down the chain.
type PolicySource func(libraryID string) string

// resolvePolicy folds the ordered sources and takes the first
// non-inherit answer. With no opinion anywhere, downloads stay off.
func resolvePolicy(sources []PolicySource, libraryID string) string {
	for _, src := range sources {
		if p := src(libraryID); p != domain.CachePolicyInherit {
			return p
		}
	}
	return domain.CachePolicyDisabled
}

// localLibraryOverride reads the per-library override from settings.
func localLibraryOverride(settings *store.SettingsRepo) PolicySource {
	return func(libraryID string) string {
		v, err := settings.Get(store.SettingCachePolicyLibrary + libraryID)
		if err != nil || v == "" {
			return domain.CachePolicyInherit
		}
		return v
	}
}

// localGlobalOverride reads the device-wide override from settings.
func localGlobalOverride(settings *store.SettingsRepo) PolicySource {
	return func(string) string {
		v, err := settings.Get(store.SettingCachePolicyGlobal)
		if err != nil || v == "" {
			return domain.CachePolicyInherit
		}
		return v
	}
}

// backendLibrarySetting reads the policy carried on the library record.
func backendLibrarySetting(db *store.DB) PolicySource {
	return func(libraryID string) string {
		lib, err := db.GetLibrary(libraryID)
		if err != nil || lib == nil || lib.CachePolicy == "" {
			return domain.CachePolicyInherit
		}
		return lib.CachePolicy
	}
}

// backendGlobalSetting reads the account-wide default, which pull sync
// mirrors from the server into settings.
func backendGlobalSetting(settings *store.SettingsRepo) PolicySource {
	return func(string) string {
		v, err := settings.Get(store.SettingBackendCachePolicy)
		if err != nil || v == "" {
			return domain.CachePolicyInherit
		}
		return v
	}
}
