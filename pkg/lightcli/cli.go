// Package lightcli wires parsing, seeding, instantiation and dispatch into one command-line run:
// a trainer, a model and an optional data module are built from flags, config files and the
// environment, then the selected trainer entry point is called.
package lightcli

import (
	"context"
	"fmt"
	"io"
	"strconv"

	"github.com/dobrovols/trainctl/pkg/clierr"
	"github.com/dobrovols/trainctl/pkg/config"
	"github.com/dobrovols/trainctl/pkg/parser"
	"github.com/dobrovols/trainctl/pkg/schema"
	"github.com/dobrovols/trainctl/pkg/seed"
	"github.com/dobrovols/trainctl/pkg/telemetry"
	"github.com/dobrovols/trainctl/pkg/training"
)

// Keys of the core groups.
const (
	SeedKey    = "seed_everything"
	TrainerKey = "trainer"
	ModelKey   = "model"
	DataKey    = "data"
)

// DefaultSaveConfigFilename is written into the trainer log directory.
const DefaultSaveConfigFilename = "config.yaml"

// State is the lifecycle position of a CLI run.
type State int

const (
	StateParserBuilt State = iota
	StateParsed
	StateSeeded
	StateInstantiated
	StateDispatched
	// StateIdle ends a construction-only run.
	StateIdle
)

func (s State) String() string {
	switch s {
	case StateParserBuilt:
		return "parser-built"
	case StateParsed:
		return "parsed"
	case StateSeeded:
		return "seeded"
	case StateInstantiated:
		return "instantiated"
	case StateDispatched:
		return "dispatched"
	case StateIdle:
		return "idle"
	default:
		return "state(" + strconv.Itoa(int(s)) + ")"
	}
}

// Hook runs around instantiation or a subcommand.
type Hook func(ctx context.Context, cli *CLI) error

// Override replaces the trainer method of a subcommand.
type Override func(ctx context.Context, cli *CLI, args training.EntryArgs) error

// TrainerFactory builds the trainer from its resolved config and the callbacks of callback groups.
type TrainerFactory func(ctx context.Context, cli *CLI, config map[string]any, callbacks []training.Callback) (training.Trainer, error)

// Options configure a CLI.
type Options struct {
	Registry *schema.Registry

	// ModelClass, DataModuleClass and TrainerClass are class paths, or role names in subclass mode.
	// DataModuleClass may be empty.
	ModelClass          string
	DataModuleClass     string
	TrainerClass        string
	SubclassModeModel   bool
	SubclassModeData    bool
	DisableSaveConfig   bool
	SaveConfigFilename  string
	SaveConfigOverwrite bool
	// TrainerDefaults become parser defaults of trainer.*, except "callbacks" which holds
	// training.Callback values appended after callback groups.
	TrainerDefaults map[string]any
	// SeedEverythingDefault is the default of --seed_everything; nil means no seeding.
	SeedEverythingDefault *int
	Description           string
	EnvPrefix             string
	EnvParse              bool
	DefaultConfigFiles    []string
	// SubcommandOptions replace the parser options of the named subcommands. Subcommands without an
	// entry use Description, EnvPrefix, EnvParse and DefaultConfigFiles.
	SubcommandOptions map[string]parser.Options
	// Run enables subcommands and dispatch. Without it the CLI only parses and instantiates.
	Run         bool
	Subcommands []SubcommandSpec

	// AddArguments extends every parser with extra groups and links.
	AddArguments      func(p *parser.Parser) error
	BeforeInstantiate Hook
	Before            map[string]Hook
	After             map[string]Hook
	Overrides         map[string]Override
	TrainerFactory    TrainerFactory

	Logger         telemetry.StructuredLogger
	Stdout, Stderr io.Writer
}

// CLI is one configured run. Fields are populated as the run advances.
type CLI struct {
	opts    Options
	state   State
	logger  telemetry.StructuredLogger
	emitter *telemetry.Emitter

	Parser     *parser.Parser
	Result     *parser.Result
	Subcommand string
	// Instances holds every instantiated group other than the trainer, keyed by group key.
	Instances  map[string]any
	Model      training.Model
	DataModule training.DataModule
	Trainer    training.Trainer
}

// New validates opts and builds the parser.
func New(opts Options) (*CLI, error) {
	if opts.Registry == nil {
		return nil, clierr.Configuration("", "a component registry is required")
	}
	if opts.ModelClass == "" {
		return nil, clierr.Configuration(ModelKey, "a model class is required")
	}
	if opts.TrainerClass == "" {
		return nil, clierr.Configuration(TrainerKey, "a trainer class is required")
	}
	if opts.SaveConfigFilename == "" {
		opts.SaveConfigFilename = DefaultSaveConfigFilename
	}
	if opts.Run && len(opts.Subcommands) == 0 {
		opts.Subcommands = DefaultSubcommands()
	}
	logger := opts.Logger
	if logger == nil {
		logger = telemetry.Nop{}
	}
	c := &CLI{opts: opts, logger: logger, emitter: telemetry.NewEmitter(logger), Instances: map[string]any{}}

	p, err := c.buildParser()
	if err != nil {
		return nil, err
	}
	p.SetOutput(opts.Stdout, opts.Stderr)
	c.Parser = p
	c.state = StateParserBuilt
	return c, nil
}

// State reports how far the run has advanced.
func (c *CLI) State() State { return c.state }

// Options returns the options the CLI was built with.
func (c *CLI) Options() Options { return c.opts }

// Logger returns the run logger.
func (c *CLI) Logger() telemetry.StructuredLogger { return c.logger }

// Config returns the namespace of the command that ran.
func (c *CLI) Config() config.Tree {
	if c.Result == nil {
		return nil
	}
	return c.Result.Tree()
}

func (c *CLI) baseOptions() parser.Options {
	return parser.Options{
		Name:               "trainctl",
		Description:        c.opts.Description,
		EnvPrefix:          c.opts.EnvPrefix,
		EnvParse:           c.opts.EnvParse,
		DefaultConfigFiles: c.opts.DefaultConfigFiles,
	}
}

func (c *CLI) buildParser() (*parser.Parser, error) {
	root := parser.New(c.opts.Registry, c.baseOptions())
	if !c.opts.Run {
		if err := c.addCoreArguments(root); err != nil {
			return nil, err
		}
		return root, nil
	}
	for _, spec := range c.opts.Subcommands {
		opts := c.baseOptions()
		if override, ok := c.opts.SubcommandOptions[spec.Name]; ok {
			opts = override
		}
		sub := parser.New(c.opts.Registry, opts)
		if err := c.addCoreArguments(sub); err != nil {
			return nil, err
		}
		if err := sub.AddMethodArgs(c.opts.TrainerClass, spec.Name, spec.Skip...); err != nil {
			return nil, err
		}
		root.AddSubcommand(spec.Name, spec.Help, sub)
	}
	return root, nil
}

func (c *CLI) addCoreArguments(p *parser.Parser) error {
	var seedDefault any
	if c.opts.SeedEverythingDefault != nil {
		seedDefault = *c.opts.SeedEverythingDefault
	}
	if err := p.AddArgument(SeedKey, schema.Param{
		Type:     schema.TypeInt,
		Nullable: true,
		Default:  seedDefault,
		Help:     "seed for the process-wide random source; null disables seeding",
	}); err != nil {
		return err
	}
	if err := p.AddClassArgs(c.opts.TrainerClass, TrainerKey, schema.ModeClass, true); err != nil {
		return err
	}
	defaults := map[string]any{}
	for k, v := range c.opts.TrainerDefaults {
		if k != "callbacks" {
			defaults[schema.Join(TrainerKey, k)] = v
		}
	}
	if err := p.SetDefaults(defaults); err != nil {
		return err
	}
	if err := p.AddClassArgs(c.opts.ModelClass, ModelKey, mode(c.opts.SubclassModeModel), true); err != nil {
		return err
	}
	if c.opts.DataModuleClass != "" {
		if err := p.AddClassArgs(c.opts.DataModuleClass, DataKey, mode(c.opts.SubclassModeData), false); err != nil {
			return err
		}
	}
	if c.opts.AddArguments != nil {
		return c.opts.AddArguments(p)
	}
	return nil
}

func mode(subclass bool) schema.Mode {
	if subclass {
		return schema.ModeSubclass
	}
	return schema.ModeClass
}

// Execute parses args and environ, seeds, instantiates and, when Run is set, dispatches the chosen
// subcommand. A --print_config or help request ends the run after parsing.
func (c *CLI) Execute(ctx context.Context, args, environ []string) error {
	if c.state != StateParserBuilt {
		return fmt.Errorf("cli already executed, state %s", c.state)
	}
	ctx = telemetry.WithLogger(ctx, c.logger)

	err := c.emitter.EmitPhase(ctx, telemetry.PhaseParse, nil, func(ctx context.Context) error {
		res, err := c.Parser.Parse(ctx, args, environ)
		if err != nil {
			return err
		}
		c.Result = res
		c.Subcommand = res.Subcommand
		return nil
	})
	if err != nil {
		return err
	}
	c.state = StateParsed
	if c.Result.Exit {
		return nil
	}
	meta := map[string]string{}
	if c.Subcommand != "" {
		meta["subcommand"] = c.Subcommand
	}

	if err := c.emitter.EmitPhase(ctx, telemetry.PhaseSeed, meta, c.seed); err != nil {
		return err
	}
	c.state = StateSeeded

	if c.opts.BeforeInstantiate != nil {
		if err := c.opts.BeforeInstantiate(ctx, c); err != nil {
			return err
		}
	}
	if err := c.emitter.EmitPhase(ctx, telemetry.PhaseInstantiate, meta, c.instantiateClasses); err != nil {
		return err
	}
	c.state = StateInstantiated

	if !c.opts.Run {
		c.state = StateIdle
		return nil
	}
	if err := c.emitter.EmitPhase(ctx, telemetry.PhaseDispatch, meta, func(ctx context.Context) error {
		return c.runSubcommand(ctx, c.Subcommand)
	}); err != nil {
		return err
	}
	c.state = StateDispatched
	return nil
}

func (c *CLI) seed(context.Context) error {
	raw, _ := config.Get(c.Config(), SeedKey)
	if raw == nil {
		return nil
	}
	v, ok := raw.(int)
	if !ok {
		return clierr.Parse(SeedKey, "expected an integer, got %T", raw)
	}
	if err := seed.Everything(int64(v), true); err != nil {
		return clierr.Parse(SeedKey, "%v", err)
	}
	return nil
}

func (c *CLI) runSubcommand(ctx context.Context, name string) error {
	if hook := c.opts.Before[name]; hook != nil {
		if err := hook(ctx, c); err != nil {
			return err
		}
	}
	args := c.EntryArgs(name)
	if override := c.opts.Overrides[name]; override != nil {
		if err := override(ctx, c, args); err != nil {
			return err
		}
	} else {
		fn, ok := training.Method(c.Trainer, name)
		if !ok {
			return clierr.Configuration(name, "trainer has no entry point for this subcommand")
		}
		if err := fn(ctx, args); err != nil {
			return err
		}
	}
	if hook := c.opts.After[name]; hook != nil {
		return hook(ctx, c)
	}
	return nil
}

// EntryArgs collects the resolved values of the entry-point arguments of name plus the model and
// data module.
func (c *CLI) EntryArgs(name string) training.EntryArgs {
	args := training.EntryArgs{Model: c.Model, DataModule: c.DataModule, Params: map[string]any{}}
	tree := c.Config()
	for _, m := range c.Result.Parser.Methods() {
		if m.Name != name {
			continue
		}
		for _, key := range m.Params {
			v, _ := config.Get(tree, key)
			args.Params[key] = v
		}
	}
	return args
}
