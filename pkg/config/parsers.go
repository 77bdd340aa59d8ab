package config

// Flags carries the parsed command-line flag values and which of them
// were explicitly set.
type Flags struct {
	Addr    string
	DBPath  string
	CfgPath string
	Set     map[string]bool
}

// EffectiveConfigResult holds the merged configuration plus the resolved
// listen address, DB path and the dominant source ("flags", "env" or
// "config").
type EffectiveConfigResult struct {
	Config *Config
	Addr   string
	DBPath string
	Source string
}

// LoadEffective merges file, env and flags (flags win over env, env wins
// over file) and normalizes the delivery knobs.
func LoadEffective(flags Flags) (EffectiveConfigResult, error) {
	cfg, err := Load(flags.CfgPath)
	fileUsed := err == nil
	if !fileUsed {
		cfg = &Config{}
	}

	envUsed := LoadEnvOverrides(cfg)

	addr := cfg.Addr()
	if flags.Set["addr"] {
		addr = flags.Addr
	}
	dbPath := cfg.Storage.DBPath
	if dbPath == "" || flags.Set["db"] {
		dbPath = flags.DBPath
	}

	source := "defaults"
	switch {
	case len(flags.Set) > 0:
		source = "flags"
	case envUsed:
		source = "env"
	case fileUsed:
		source = "config"
	}

	cfg.Delivery.Normalize()
	return EffectiveConfigResult{Config: cfg, Addr: addr, DBPath: dbPath, Source: source}, nil
}
