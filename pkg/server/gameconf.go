package server

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"

	"github.com/crystal-mush/mushcore/pkg/gamedb"
	"github.com/crystal-mush/mushcore/pkg/queue"
)

// EnvPrefix prefixes every environment override, e.g. MUSH_QUEUE_MAX.
const EnvPrefix = "MUSH_"

// GameConf holds game-level configuration parameters.
type GameConf struct {
	// --- Identity ---
	MudName string `yaml:"mud_name" env:"MUD_NAME"`
	Port    int    `yaml:"port" env:"PORT"`

	// --- Key rooms ---
	MasterRoom         int `yaml:"master_room" env:"MASTER_ROOM"`
	PlayerStartingRoom int `yaml:"player_starting_room" env:"PLAYER_STARTING_ROOM"`
	GodDBRef           int `yaml:"god_dbref" env:"GOD_DBREF"`

	// --- Queue ---
	QueueMax       int `yaml:"queue_max" env:"QUEUE_MAX"`
	WizardQueueMax int `yaml:"wizard_queue_max" env:"WIZARD_QUEUE_MAX"`
	WaitCost       int `yaml:"wait_cost" env:"WAIT_COST"`
	MachineCost    int `yaml:"machine_cost" env:"MACHINE_COST"`
	MaxPIDs        int `yaml:"max_pids" env:"MAX_PIDS"`
	QueueChunk     int `yaml:"queue_chunk" env:"QUEUE_CHUNK"`
	QueueIdleChunk int `yaml:"queue_idle_chunk" env:"QUEUE_IDLE_CHUNK"`
	CPULimitMS     int `yaml:"cpu_limit_ms" env:"CPU_LIMIT_MS"`

	// --- Evaluation ---
	CommandNestLimit        int    `yaml:"command_nest_limit" env:"COMMAND_NEST_LIMIT"`
	FunctionInvocationLimit int    `yaml:"function_invocation_limit" env:"FUNCTION_INVOCATION_LIMIT"`
	FunctionNestLimit       int    `yaml:"function_nest_limit" env:"FUNCTION_NEST_LIMIT"`
	NoEvalToken             string `yaml:"no_eval_token" env:"NO_EVAL_TOKEN"`

	// --- Economy ---
	StartingMoney int `yaml:"starting_money" env:"STARTING_MONEY"`

	// --- Files ---
	AccessFile     string `yaml:"access_file" env:"ACCESS_FILE"`
	LedgerDatabase string `yaml:"ledger_database" env:"LEDGER_DATABASE"`
	BoltDatabase   string `yaml:"bolt_database" env:"BOLT_DATABASE"`
	SaveInterval   int    `yaml:"save_interval" env:"SAVE_INTERVAL"` // seconds, 0 disables

	// --- Web / status API ---
	WebEnabled     bool   `yaml:"web_enabled" env:"WEB_ENABLED"`
	WebPort        int    `yaml:"web_port" env:"WEB_PORT"`
	JWTSecret      string `yaml:"jwt_secret" env:"JWT_SECRET"`
	JWTExpiry      int    `yaml:"jwt_expiry" env:"JWT_EXPIRY"` // seconds
	WebRateLimit   int    `yaml:"web_rate_limit" env:"WEB_RATE_LIMIT"` // requests per minute per IP
	MetricsEnabled bool   `yaml:"metrics_enabled" env:"METRICS_ENABLED"`
}

// DefaultGameConf returns a GameConf with TinyMUSH-compatible defaults.
func DefaultGameConf() *GameConf {
	return &GameConf{
		MudName:                 "mushcore",
		Port:                    6250,
		MasterRoom:              2,
		PlayerStartingRoom:      0,
		GodDBRef:                1,
		QueueMax:                100,
		WizardQueueMax:          1000,
		WaitCost:                10,
		MachineCost:             64,
		MaxPIDs:                 10000,
		QueueChunk:              3,
		QueueIdleChunk:          50,
		CPULimitMS:              500,
		CommandNestLimit:        50,
		FunctionInvocationLimit: 2500,
		FunctionNestLimit:       50,
		NoEvalToken:             "~",
		StartingMoney:           150,
		SaveInterval:            1800,
		WebPort:                 8080,
		JWTExpiry:               86400,
		WebRateLimit:            120,
		MetricsEnabled:          true,
	}
}

// LoadGameConf reads a YAML config file and applies MUSH_* environment
// overrides. An empty path yields the defaults plus overrides. Relative
// file paths are resolved against the config file's directory.
func LoadGameConf(path string) (*GameConf, error) {
	return loadGameConf(path, nil)
}

// loadGameConf is LoadGameConf with an explicit environment; nil means the
// process environment.
func loadGameConf(path string, environ map[string]string) (*GameConf, error) {
	gc := DefaultGameConf()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("gameconf: reading %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, gc); err != nil {
			return nil, fmt.Errorf("gameconf: parsing YAML %s: %w", path, err)
		}
	}

	opts := env.Options{Prefix: EnvPrefix, Environment: environ}
	if err := env.ParseWithOptions(gc, opts); err != nil {
		return nil, fmt.Errorf("gameconf: environment: %w", err)
	}

	if path != "" {
		base := filepath.Dir(path)
		for _, p := range []*string{&gc.AccessFile, &gc.LedgerDatabase, &gc.BoltDatabase} {
			if *p != "" && !filepath.IsAbs(*p) {
				*p = filepath.Join(base, *p)
			}
		}
	}
	if err := gc.Validate(); err != nil {
		return nil, err
	}
	return gc, nil
}

// Validate rejects settings the scheduler cannot run with.
func (gc *GameConf) Validate() error {
	switch {
	case gc.MaxPIDs < 1:
		return fmt.Errorf("gameconf: max_pids must be positive, got %d", gc.MaxPIDs)
	case gc.QueueMax < 0 || gc.WizardQueueMax < 0:
		return fmt.Errorf("gameconf: queue limits must not be negative")
	case gc.WaitCost < 0 || gc.MachineCost < 0:
		return fmt.Errorf("gameconf: costs must not be negative")
	case gc.QueueChunk < 1 || gc.QueueIdleChunk < 1:
		return fmt.Errorf("gameconf: queue chunks must be positive")
	case gc.SaveInterval < 0:
		return fmt.Errorf("gameconf: save_interval must not be negative")
	}
	return nil
}

// QueueConfig returns the scheduler limits.
func (gc *GameConf) QueueConfig() queue.Config {
	return queue.Config{
		QueueMax:       gc.QueueMax,
		WizardQueueMax: gc.WizardQueueMax,
		WaitCost:       gc.WaitCost,
		MachineCost:    gc.MachineCost,
		MaxPIDs:        gc.MaxPIDs,
		CPULimit:       time.Duration(gc.CPULimitMS) * time.Millisecond,
	}
}

// ApplyGameConf pushes runtime-changeable settings into the game's
// components. The pid table keeps the capacity it was created with.
func (g *Game) ApplyGameConf(gc *GameConf) {
	g.Conf = gc
	g.DB.God = gamedb.DBRef(gc.GodDBRef)
	g.Queue.SetConfig(gc.QueueConfig())
	g.Dispatcher.NestLimit = gc.CommandNestLimit
	g.Dispatcher.NoEvalToken = gc.NoEvalToken
	g.Interp.FuncNestLim = gc.FunctionNestLimit
	g.Interp.FuncInvkLim = gc.FunctionInvocationLimit
}

// MasterRoomRef returns the master room as a DBRef.
func (g *Game) MasterRoomRef() gamedb.DBRef {
	return gamedb.DBRef(g.Conf.MasterRoom)
}

// StartingRoom is where a player whose location was destroyed lands on connect.
func (g *Game) StartingRoom() gamedb.DBRef {
	return gamedb.DBRef(g.Conf.PlayerStartingRoom)
}
