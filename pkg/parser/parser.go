// Package parser builds layered command-line parsers from component schemas. Values come from
// parameter defaults, default config files, the environment, --config files and flags, in increasing
// precedence, and resolve into one nested configuration tree per command.
package parser

import (
	"io"
	"os"
	"strings"

	"github.com/dobrovols/trainctl/pkg/clierr"
	"github.com/dobrovols/trainctl/pkg/config"
	"github.com/dobrovols/trainctl/pkg/links"
	"github.com/dobrovols/trainctl/pkg/schema"
)

// DefaultEnvPrefix prefixes environment variable names.
const DefaultEnvPrefix = "PL"

// Control flag names.
const (
	ConfigFlag      = "config"
	PrintConfigFlag = "print_config"
)

// Options configure a parser.
type Options struct {
	Name        string
	Description string
	// EnvPrefix prefixes environment variable names; empty means DefaultEnvPrefix.
	EnvPrefix string
	// EnvParse enables sourcing values from <EnvPrefix>_* variables and <EnvPrefix>_CONFIG.
	EnvParse bool
	// DefaultConfigFiles are searched in order; the first existing file is read just above parameter defaults.
	DefaultConfigFiles []string
}

// Group is an argument group bound to a class.
type Group struct {
	Key    string
	Schema *schema.GroupSchema
	Role   schema.Role
	// Required groups must resolve to a value.
	Required bool
}

// ClassPath returns the concrete class of a ModeClass group, or "" for polymorphic groups.
func (g *Group) ClassPath() string {
	if g.Schema.Mode == schema.ModeClass {
		return g.Schema.ClassPath
	}
	return ""
}

// OptimizerGroup records an optimizer-like or scheduler-like group and its link target.
type OptimizerGroup struct {
	Key    string
	Spec   schema.ClassSpec
	LinkTo string
	Role   schema.Role
}

// Method records entry-point arguments added to the parser.
type Method struct {
	ClassPath string
	Name      string
	Skip      []string
	Params    []string
}

// Parser holds the argument schema of one command.
type Parser struct {
	reg  *schema.Registry
	opts Options

	entries  []schema.Entry
	index    map[string]int
	groups   []*Group
	defaults map[string]any

	optimizers   []OptimizerGroup
	callbackKeys []string
	methods      []Method
	links        *links.Resolver

	subcommands []*subcommand
	// subcommandName is set when the parser is attached below a root parser.
	subcommandName string

	stdout io.Writer
	stderr io.Writer
}

type subcommand struct {
	name   string
	help   string
	parser *Parser
}

// New constructs a parser over reg.
func New(reg *schema.Registry, opts Options) *Parser {
	if opts.EnvPrefix == "" {
		opts.EnvPrefix = DefaultEnvPrefix
	}
	if opts.Name == "" {
		opts.Name = "trainctl"
	}
	return &Parser{
		reg:      reg,
		opts:     opts,
		index:    map[string]int{},
		defaults: map[string]any{},
		links:    links.NewResolver(),
		stdout:   os.Stdout,
		stderr:   os.Stderr,
	}
}

// SetOutput redirects help and --print_config output.
func (p *Parser) SetOutput(stdout, stderr io.Writer) {
	if stdout != nil {
		p.stdout = stdout
	}
	if stderr != nil {
		p.stderr = stderr
	}
	for _, sub := range p.subcommands {
		sub.parser.SetOutput(stdout, stderr)
	}
}

// Registry returns the registry the parser resolves classes from.
func (p *Parser) Registry() *schema.Registry { return p.reg }

// Options returns the parser options.
func (p *Parser) Options() Options { return p.opts }

// AddArgument adds a single top-level argument such as seed_everything.
func (p *Parser) AddArgument(key string, param schema.Param) error {
	if param.Name == "" {
		param.Name = key
	}
	entry := schema.Entry{Key: key, Param: param}
	if param.Type == schema.TypeClass && param.Base != "" {
		entry.Polymorphic = true
		entry.Bases = strings.Split(param.Base, ",")
	}
	return p.addEntries(entry)
}

var lightningRoles = map[schema.Role]bool{
	schema.RoleTrainer:    true,
	schema.RoleModel:      true,
	schema.RoleDataModule: true,
	schema.RoleCallback:   true,
}

// AddClassArgs adds the group of a trainer, model, datamodule or callback class under key. In
// subclass mode the group accepts any subclass of classPath. Callback groups are remembered in order.
func (p *Parser) AddClassArgs(classPath, key string, mode schema.Mode, required bool) error {
	role, ok := p.reg.RoleOf(classPath)
	if !ok {
		return clierr.ImportResolution(classPath, "not registered")
	}
	if !lightningRoles[role] {
		return clierr.Configuration(key, "%s plays role %q; expected a trainer, model, datamodule or callback class or a function producing one", classPath, role)
	}

	var (
		gs  *schema.GroupSchema
		err error
	)
	if mode == schema.ModeSubclass {
		gs, err = schema.ExtractSubclass(p.reg, key, required, classPath)
	} else {
		gs, err = schema.ExtractClass(p.reg, classPath, key)
	}
	if err != nil {
		return err
	}
	gs.Role = role
	if err := p.addGroup(&Group{Key: key, Schema: gs, Role: role, Required: required}); err != nil {
		return err
	}
	if role == schema.RoleCallback {
		p.callbackKeys = append(p.callbackKeys, key)
	}
	return nil
}

// AddOptimizerArgs adds an optimizer group. A single class is flattened; AnyOf is polymorphic.
// linkTo is a destination key or links.Automatic.
func (p *Parser) AddOptimizerArgs(spec schema.ClassSpec, key, linkTo string) error {
	return p.addOptimizerLike(spec, key, linkTo, schema.RoleOptimizer)
}

// AddLRSchedulerArgs adds a learning rate scheduler group. A single class is flattened; AnyOf is polymorphic.
func (p *Parser) AddLRSchedulerArgs(spec schema.ClassSpec, key, linkTo string) error {
	return p.addOptimizerLike(spec, key, linkTo, schema.RoleLRScheduler)
}

func (p *Parser) addOptimizerLike(spec schema.ClassSpec, key, linkTo string, role schema.Role) error {
	if linkTo == "" {
		linkTo = links.Automatic
	}
	for _, path := range spec.Paths {
		got, ok := p.reg.RoleOf(path)
		if !ok {
			return clierr.ImportResolution(path, "not registered")
		}
		if got != role {
			return clierr.Configuration(key, "%s plays role %q, expected %q", path, got, role)
		}
	}
	gs, err := spec.Extract(p.reg, key)
	if err != nil {
		return err
	}
	gs.Role = role
	if err := p.addGroup(&Group{Key: key, Schema: gs, Role: role}); err != nil {
		return err
	}
	p.optimizers = append(p.optimizers, OptimizerGroup{Key: key, Spec: spec, LinkTo: linkTo, Role: role})
	if linkTo == links.Automatic {
		return nil
	}
	var compute links.ComputeFunc
	if !spec.Any {
		compute = links.ClassPathWrapper(gs.ClassPath)
	}
	return p.links.Register(key, linkTo, compute)
}

// AddMethodArgs adds the entry-point parameters of classPath.method at the top level, minus skip.
func (p *Parser) AddMethodArgs(classPath, method string, skip ...string) error {
	entries, err := schema.ExtractMethod(p.reg, classPath, method, skip...)
	if err != nil {
		return err
	}
	if err := p.addEntries(entries...); err != nil {
		return err
	}
	m := Method{ClassPath: classPath, Name: method, Skip: append([]string(nil), skip...)}
	for _, e := range entries {
		m.Params = append(m.Params, e.Key)
	}
	p.methods = append(p.methods, m)
	return nil
}

// LinkArguments declares that dest is computed from source after parsing.
func (p *Parser) LinkArguments(source, dest string, compute links.ComputeFunc) error {
	return p.links.Register(source, dest, compute)
}

// SetDefaults overrides parameter defaults. Keys are dotted; a mapping given for a group is flattened.
func (p *Parser) SetDefaults(values map[string]any) error {
	for key, value := range values {
		if m, ok := value.(map[string]any); ok && p.isGroupPrefix(key) {
			flat := config.Flatten(m, key, p.isGroupPrefix)
			if err := p.SetDefaults(flat); err != nil {
				return err
			}
			continue
		}
		if _, ok := p.classify(key); !ok {
			return clierr.Configuration(key, "default for unknown argument")
		}
		p.defaults[key] = value
	}
	return nil
}

// AddSubcommand attaches sub as a named subcommand with its own isolated namespace.
func (p *Parser) AddSubcommand(name, help string, sub *Parser) {
	sub.subcommandName = name
	sub.opts.Name = name
	sub.stdout, sub.stderr = p.stdout, p.stderr
	p.subcommands = append(p.subcommands, &subcommand{name: name, help: help, parser: sub})
}

// Subcommand returns the parser of a named subcommand.
func (p *Parser) Subcommand(name string) (*Parser, bool) {
	for _, sub := range p.subcommands {
		if sub.name == name {
			return sub.parser, true
		}
	}
	return nil, false
}

// Subcommands lists subcommand names in registration order.
func (p *Parser) Subcommands() []string {
	names := make([]string, len(p.subcommands))
	for i, sub := range p.subcommands {
		names[i] = sub.name
	}
	return names
}

// Groups returns the class groups in registration order.
func (p *Parser) Groups() []*Group { return append([]*Group(nil), p.groups...) }

// Group looks up a group by key.
func (p *Parser) Group(key string) (*Group, bool) {
	for _, g := range p.groups {
		if g.Key == key {
			return g, true
		}
	}
	return nil, false
}

// OptimizerGroups returns optimizer and scheduler groups in registration order.
func (p *Parser) OptimizerGroups() []OptimizerGroup {
	return append([]OptimizerGroup(nil), p.optimizers...)
}

// CallbackKeys returns the keys of callback groups in registration order.
func (p *Parser) CallbackKeys() []string { return append([]string(nil), p.callbackKeys...) }

// Methods returns the entry points whose arguments were added.
func (p *Parser) Methods() []Method { return append([]Method(nil), p.methods...) }

// Links returns the link resolver.
func (p *Parser) Links() *links.Resolver { return p.links }

// Entries returns the static argument entries in registration order.
func (p *Parser) Entries() []schema.Entry { return append([]schema.Entry(nil), p.entries...) }

func (p *Parser) addGroup(g *Group) error {
	for _, existing := range p.groups {
		if existing.Key == g.Key {
			return clierr.Configuration(g.Key, "group already added")
		}
	}
	if err := p.addEntries(g.Schema.Entries...); err != nil {
		return err
	}
	p.groups = append(p.groups, g)
	return nil
}

func (p *Parser) addEntries(entries ...schema.Entry) error {
	for _, e := range entries {
		if e.Key == "" || e.Key == ConfigFlag || e.Key == PrintConfigFlag {
			return clierr.Configuration(e.Key, "reserved argument name")
		}
		if _, dup := p.index[e.Key]; dup {
			return clierr.Configuration(e.Key, "duplicate argument key")
		}
		for _, existing := range p.entries {
			if strings.HasPrefix(existing.Key, e.Key+".") || strings.HasPrefix(e.Key, existing.Key+".") {
				return clierr.Configuration(e.Key, "argument key collides with %s", existing.Key)
			}
		}
	}
	for _, e := range entries {
		p.index[e.Key] = len(p.entries)
		p.entries = append(p.entries, e)
	}
	return nil
}

func (p *Parser) isGroupPrefix(key string) bool {
	if _, exact := p.index[key]; exact {
		return false
	}
	for _, e := range p.entries {
		if strings.HasPrefix(e.Key, key+".") {
			return true
		}
	}
	return false
}
