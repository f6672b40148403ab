// Package confloader loads configuration with koanf.
//
// Sources are layered, later ones overriding earlier ones:
//
//  1. Values already present in the target struct (defaults)
//  2. A YAML configuration file
//  3. Environment variables
//  4. Explicit overrides set with LoadMap (command-line flags)
//
// Environment variables carry a prefix (RETOUCH_ by default) and use a
// double underscore between sections, so RETOUCH_STORAGE__DATA_DIR sets
// storage.data_dir.
//
// Watcher reports changes to the configuration file so a running server can
// reload the settings that are safe to change in place.
package confloader
