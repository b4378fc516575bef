package config

// Diff describes what changed between two configs. Only fields that can be
// safely hot-reloaded are tracked; server and timing changes require a
// restart.
type Diff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	UserNameChanged bool
	NewUserName     string

	SharingChanged bool
	NewSharing     bool
}

// Any reports whether the diff contains at least one change.
func (d Diff) Any() bool {
	return d.LogLevelChanged || d.UserNameChanged || d.SharingChanged
}

// Compare returns what changed between old and new that is safe to apply
// without restart.
func Compare(old, new *Config) Diff {
	d := Diff{}
	if old.LogLevel != new.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.LogLevel
	}
	if old.User.Name != new.User.Name {
		d.UserNameChanged = true
		d.NewUserName = new.User.Name
	}
	if old.Server.Sharing != new.Server.Sharing {
		d.SharingChanged = true
		d.NewSharing = new.Server.Sharing
	}
	return d
}
