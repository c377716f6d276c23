package parser

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	internalconfig "github.com/dobrovols/trainctl/internal/config"
	"github.com/dobrovols/trainctl/pkg/clierr"
	"github.com/dobrovols/trainctl/pkg/config"
	"github.com/dobrovols/trainctl/pkg/persist"
	"github.com/dobrovols/trainctl/pkg/schema"
)

// SubcommandKey holds the selected subcommand name in a parsed tree.
const SubcommandKey = "subcommand"

// Result is the outcome of a parse.
type Result struct {
	Subcommand string
	// Config is keyed by subcommand name when subcommands are enabled.
	Config   config.Tree
	Resolved *config.ResolvedInvocation
	// Parser is the parser of the command that ran.
	Parser *Parser
	// Exit is set when help or --print_config was served and nothing else should run.
	Exit bool
}

// Tree returns the namespace of the command that ran.
func (r *Result) Tree() config.Tree {
	if r.Subcommand == "" {
		return r.Config
	}
	tree, _ := r.Config[r.Subcommand].(map[string]any)
	return tree
}

type runState struct {
	environ []string
	// root is the parser Parse was called on; rootConfigs are the --config values given before
	// the subcommand name.
	root        *Parser
	rootConfigs []string
	result      *Result
	catalog internalconfig.FlagCatalog
	loader  *internalconfig.Loader
}

// Parse resolves args and environ into a configuration tree. Nothing is instantiated; any malformed
// input fails the whole parse.
func (p *Parser) Parse(ctx context.Context, args, environ []string) (*Result, error) {
	args, rootConfigs := p.splitRootConfigs(p.joinBoolValues(args))
	state := &runState{environ: environ, root: p, rootConfigs: rootConfigs}
	root := p.command(state, initArgFlagNames(args))
	root.SetFlagErrorFunc(func(cmd *cobra.Command, err error) error {
		return clierr.Parse(cmd.CommandPath(), "%v", err)
	})
	state.catalog = internalconfig.NewCobraCatalog(root)
	state.loader = internalconfig.NewLoader(state.catalog)

	root.SetArgs(args)
	root.SetOut(p.stdout)
	root.SetErr(p.stderr)
	if err := root.ExecuteContext(ctx); err != nil {
		var cliErr *clierr.Error
		if errors.As(err, &cliErr) {
			return nil, err
		}
		return nil, clierr.Parse(root.Name(), "%v", err)
	}
	if state.result == nil {
		return &Result{Exit: true}, nil
	}
	return state.result, nil
}

func (p *Parser) command(state *runState, dynamic []string) *cobra.Command {
	cmd := &cobra.Command{
		Use:           p.opts.Name,
		Short:         p.opts.Description,
		SilenceErrors: true,
		SilenceUsage:  true,
	}
	if len(p.subcommands) > 0 {
		cmd.CompletionOptions.DisableDefaultCmd = true
		cmd.Flags().StringArray(ConfigFlag, nil, "Configuration keyed by subcommand name, given before the subcommand; may be repeated")
		cmd.RunE = func(cmd *cobra.Command, _ []string) error {
			return clierr.Parse(cmd.CommandPath(), "a subcommand is required: %s", strings.Join(p.Subcommands(), ", "))
		}
		for _, sub := range p.subcommands {
			child := sub.parser.command(state, dynamic)
			if sub.help != "" {
				child.Short = sub.help
			}
			child.RunE = wrapSubcommand(sub.name, child.RunE, state)
			cmd.AddCommand(child)
		}
		return cmd
	}

	cmd.Args = cobra.NoArgs
	p.bindFlags(cmd.Flags(), dynamic)
	cmd.RunE = func(cmd *cobra.Command, _ []string) error {
		res, err := p.resolve(cmd, state)
		if err != nil {
			return err
		}
		state.result = res
		return nil
	}
	return cmd
}

func wrapSubcommand(name string, run func(*cobra.Command, []string) error, state *runState) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		if err := run(cmd, args); err != nil {
			return err
		}
		if state.result != nil && state.result.Subcommand == "" {
			tree := state.result.Config
			state.result.Subcommand = name
			state.result.Config = config.Tree{SubcommandKey: name, name: tree}
		}
		return nil
	}
}

func (p *Parser) bindFlags(fs *pflag.FlagSet, dynamic []string) {
	fs.StringArray(ConfigFlag, nil, "Path to a YAML, JSON or TOML configuration file; may be repeated, later files win")
	fs.String(PrintConfigFlag, "", "Print the resolved configuration (yaml, json or summary) and exit")
	fs.Lookup(PrintConfigFlag).NoOptDefVal = "yaml"

	for _, e := range p.entries {
		if p.links.IsDestination(e.Key) {
			continue
		}
		switch {
		case e.Polymorphic:
			help := usage(e)
			if candidates := schema.Candidates(p.reg, e); len(candidates) > 0 {
				names := make([]string, len(candidates))
				for i, c := range candidates {
					names[i] = c.ClassPath
				}
				help += " one of: " + strings.Join(names, ", ")
			}
			addFlag(fs, e.Key, &classValue{}, help, internalconfig.FlagKindClass)
			addFlag(fs, e.Key+classPathSuffix, &entryValue{param: schema.Param{Type: schema.TypeString, Nullable: true}},
				"Class path of "+e.Key, internalconfig.FlagKindClassPath)
		case e.Param.Type == schema.TypeClassList:
			addFlag(fs, e.Key, &classListValue{}, usage(e)+"; repeat to append", internalconfig.FlagKindClassList)
		default:
			flag := addFlag(fs, e.Key, &entryValue{param: e.Param}, usage(e), internalconfig.FlagKindValue)
			if e.Param.Type == schema.TypeBool {
				flag.NoOptDefVal = "true"
			}
		}
	}

	for _, name := range dynamic {
		if fs.Lookup(name) != nil {
			continue
		}
		info, ok := p.classify(name)
		if !ok || info.kind != keyInitArg || p.links.IsDestination(name) {
			continue
		}
		addFlag(fs, name, &stringValue{}, "Init argument of "+info.base, internalconfig.FlagKindInitArg)
	}
}

func (p *Parser) resolve(cmd *cobra.Command, state *runState) (*Result, error) {
	fs := cmd.Flags()
	commandPath := cmd.CommandPath()

	defaults, err := p.defaultLayer()
	if err != nil {
		return nil, err
	}
	layers := []config.Layer{defaults}

	if loc, ok := internalconfig.LocateDefaultConfig(p.opts.DefaultConfigFiles); ok {
		layer, err := p.fileLayer(state, commandPath, loc, config.ValueSourceDefault)
		if err != nil {
			return nil, err
		}
		layers = append(layers, layer)
	}

	if p.opts.EnvParse {
		envLayers, err := p.envLayers(state, commandPath)
		if err != nil {
			return nil, err
		}
		layers = append(layers, envLayers...)
	}

	paths, err := fs.GetStringArray(ConfigFlag)
	if err != nil {
		return nil, clierr.Parse(ConfigFlag, "%v", err)
	}
	if p.nested(state) {
		for _, path := range state.rootConfigs {
			loc, err := internalconfig.LocateConfig(path)
			if err != nil {
				return nil, clierr.Parse(ConfigFlag, "%v", err)
			}
			layer, err := p.rootLayer(state, commandPath, loc, config.ValueSourceConfig)
			if err != nil {
				return nil, err
			}
			layers = append(layers, layer)
		}
	}
	for _, path := range paths {
		loc, err := internalconfig.LocateConfig(path)
		if err != nil {
			return nil, clierr.Parse(ConfigFlag, "%v", err)
		}
		layer, err := p.fileLayer(state, commandPath, loc, config.ValueSourceConfig)
		if err != nil {
			return nil, err
		}
		layers = append(layers, layer)
	}

	runtime, err := p.runtimeLayer(fs)
	if err != nil {
		return nil, err
	}
	layers = append(layers, runtime)

	resolved, err := config.ResolveInvocation(commandPath, layers...)
	if err != nil {
		return nil, clierr.Parse(commandPath, "%v", err)
	}
	tree, err := p.finalize(resolved)
	if err != nil {
		return nil, err
	}
	if err := p.links.Apply(tree, resolved); err != nil {
		return nil, err
	}

	res := &Result{Config: tree, Resolved: resolved, Parser: p}
	if format, _ := fs.GetString(PrintConfigFlag); format != "" {
		if err := p.PrintConfig(cmd.OutOrStdout(), tree, resolved, format); err != nil {
			return nil, err
		}
		res.Exit = true
	}
	return res, nil
}

func (p *Parser) defaultLayer() (config.Layer, error) {
	values := map[string]any{}
	for _, e := range p.entries {
		if p.links.IsDestination(e.Key) {
			continue
		}
		values[e.Key] = config.DeepCopy(e.Param.Default)
	}
	for key, value := range p.defaults {
		values[key] = config.DeepCopy(value)
	}
	flags, err := p.normalize(values, config.ValueSourceDefault)
	if err != nil {
		return config.Layer{}, err
	}
	return config.Layer{Name: "defaults", Source: config.ValueSourceDefault, Flags: flags}, nil
}

func (p *Parser) fileLayer(state *runState, commandPath string, loc internalconfig.LocationResult, source config.ValueSource) (config.Layer, error) {
	values, err := state.loader.Load(commandPath, loc)
	if err != nil {
		return config.Layer{}, err
	}
	flags, err := p.normalize(values, source)
	if err != nil {
		return config.Layer{}, err
	}
	return config.Layer{Name: loc.Name(), Source: source, Path: loc.Path, Flags: flags}, nil
}

func (p *Parser) envLayers(state *runState, commandPath string) ([]config.Layer, error) {
	lookup := lookupIn(state.environ)
	var layers []config.Layer

	if p.nested(state) {
		name := internalconfig.EnvName(state.root.opts.EnvPrefix, "", ConfigFlag)
		loc, ok, err := internalconfig.LocateEnvConfig(name, lookup)
		if err != nil {
			return nil, clierr.Parse(name, "%v", err)
		}
		if ok {
			layer, err := p.rootLayer(state, commandPath, loc, config.ValueSourceEnv)
			if err != nil {
				return nil, err
			}
			layer.Name = name
			layers = append(layers, layer)
		}
	}

	name := internalconfig.EnvName(p.opts.EnvPrefix, p.subcommandName, ConfigFlag)
	loc, ok, err := internalconfig.LocateEnvConfig(name, lookup)
	if err != nil {
		return nil, clierr.Parse(name, "%v", err)
	}
	if ok {
		layer, err := p.fileLayer(state, commandPath, loc, config.ValueSourceEnv)
		if err != nil {
			return nil, err
		}
		layer.Name = name
		layers = append(layers, layer)
	}

	values := internalconfig.EnvValues(state.catalog, commandPath, p.opts.EnvPrefix, p.subcommandName, state.environ)
	flags, err := p.normalize(values, config.ValueSourceEnv)
	if err != nil {
		return nil, err
	}
	layers = append(layers, config.Layer{Name: "environment", Source: config.ValueSourceEnv, Flags: flags})
	return layers, nil
}

// nested reports whether p runs as a subcommand of the parser Parse was called on.
func (p *Parser) nested(state *runState) bool {
	return state.root != p && p.subcommandName != ""
}

// rootLayer reads a root-level configuration and keeps the section of the running subcommand.
func (p *Parser) rootLayer(state *runState, commandPath string, loc internalconfig.LocationResult, source config.ValueSource) (config.Layer, error) {
	tree, err := internalconfig.DecodeLocation(loc)
	if err != nil {
		return config.Layer{}, clierr.Parse(loc.Name(), "%v", err)
	}
	section, err := state.root.section(tree, p.subcommandName)
	if err != nil {
		return config.Layer{}, err
	}
	values, err := state.loader.Flatten(commandPath, section)
	if err != nil {
		return config.Layer{}, err
	}
	flags, err := p.normalize(values, source)
	if err != nil {
		return config.Layer{}, err
	}
	return config.Layer{Name: loc.Name(), Source: source, Path: loc.Path, Flags: flags}, nil
}

// section picks the part of a root-level tree that belongs to subcommand. Sections of other
// subcommands are ignored. A tree without any subcommand key is the subcommand's own configuration.
func (p *Parser) section(tree map[string]any, subcommand string) (map[string]any, error) {
	keyed := false
	for key := range tree {
		if _, ok := p.Subcommand(key); ok || key == SubcommandKey {
			keyed = true
			break
		}
	}
	if !keyed {
		return tree, nil
	}
	for key := range tree {
		if _, ok := p.Subcommand(key); !ok && key != SubcommandKey {
			return nil, clierr.Parse(key, "unknown key for %q", p.opts.Name)
		}
	}
	switch v := tree[subcommand].(type) {
	case nil:
		return map[string]any{}, nil
	case map[string]any:
		return v, nil
	default:
		return nil, clierr.Parse(subcommand, "expected a mapping, got %T", v)
	}
}

func (p *Parser) runtimeLayer(fs *pflag.FlagSet) (config.Layer, error) {
	values := map[string]any{}
	fs.Visit(func(flag *pflag.Flag) {
		if _, annotated := flag.Annotations[internalconfig.KindAnnotation]; !annotated {
			return
		}
		if rv, ok := flag.Value.(rawValue); ok {
			values[flag.Name] = rv.Raw()
		}
	})
	flags, err := p.normalize(values, config.ValueSourceRuntime)
	if err != nil {
		return config.Layer{}, err
	}
	return config.Layer{Name: "command line", Source: config.ValueSourceRuntime, Flags: flags}, nil
}

// normalize types one layer's raw values and expands class descriptors into class_path and
// init_args keys so that layers merge key by key.
func (p *Parser) normalize(values map[string]any, source config.ValueSource) (config.FlagSet, error) {
	keys := make([]string, 0, len(values))
	for key := range values {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	out := config.FlagSet{}
	for _, key := range keys {
		raw := values[key]
		if p.links.IsDestination(key) {
			return nil, clierr.Parse(key, "value is computed by a link and cannot be set")
		}
		info, ok := p.classify(key)
		if !ok {
			return nil, clierr.Parse(key, "unknown argument")
		}
		switch info.kind {
		case keyValue:
			if schema.IsNull(raw) && (source == config.ValueSourceDefault || info.entry.Param.Default == nil) {
				out[key] = config.FlagValue{Source: source}
				continue
			}
			v, err := schema.Coerce(info.entry.Param, raw)
			if err != nil {
				return nil, clierr.Parse(key, "%v", err)
			}
			out[key] = config.FlagValue{Value: v, Source: source}
		case keyClassList:
			v, err := schema.Coerce(schema.Param{Type: schema.TypeClassList, Nullable: true}, raw)
			if err != nil {
				return nil, clierr.Parse(key, "%v", err)
			}
			if items, ok := v.([]any); ok {
				for _, item := range items {
					m := item.(map[string]any)
					full, err := p.fullClassPath(m[schema.ClassPathKey])
					if err != nil {
						return nil, err
					}
					m[schema.ClassPathKey] = full
				}
			}
			out[key] = config.FlagValue{Value: v, Source: source}
		case keyClass:
			if err := p.expandClass(out, key, raw, source); err != nil {
				return nil, err
			}
		case keyClassPath:
			full, err := p.fullClassPath(raw)
			if err != nil {
				return nil, err
			}
			out[key] = config.FlagValue{Value: full, Source: source}
		case keyInitArgs:
			if raw == nil {
				continue
			}
			m, ok := schema.Normalize(raw).(map[string]any)
			if !ok {
				return nil, clierr.Parse(key, "expected a mapping, got %T", raw)
			}
			for name, v := range m {
				out[key+"."+name] = config.FlagValue{Value: v, Source: source}
			}
		case keyInitArg:
			out[key] = config.FlagValue{Value: schema.Normalize(raw), Source: source}
		}
	}
	return out, nil
}

func (p *Parser) expandClass(out config.FlagSet, key string, raw any, source config.ValueSource) error {
	if schema.IsNull(raw) {
		out[key+classPathSuffix] = config.FlagValue{Source: source}
		return nil
	}
	if m, ok := schema.Normalize(raw).(map[string]any); ok {
		if _, has := m[schema.ClassPathKey]; !has {
			for k := range m {
				if k != schema.InitArgsKey {
					return clierr.Parse(key+"."+k, "unexpected key in class descriptor")
				}
			}
			init, _ := m[schema.InitArgsKey].(map[string]any)
			for name, v := range init {
				out[key+initArgsSuffix+"."+name] = config.FlagValue{Value: v, Source: source}
			}
			return nil
		}
	}
	coerced, err := schema.Coerce(schema.Param{Type: schema.TypeClass}, raw)
	if err != nil {
		return clierr.Parse(key, "%v", err)
	}
	d, err := schema.DescriptorFrom(coerced)
	if err != nil {
		return clierr.Parse(key, "%v", err)
	}
	full, err := p.fullClassPath(d.ClassPath)
	if err != nil {
		return err
	}
	out[key+classPathSuffix] = config.FlagValue{Value: full, Source: source}
	for name, v := range d.InitArgs {
		out[key+initArgsSuffix+"."+name] = config.FlagValue{Value: v, Source: source}
	}
	return nil
}

func (p *Parser) fullClassPath(raw any) (any, error) {
	if schema.IsNull(raw) {
		return nil, nil
	}
	path, ok := raw.(string)
	if !ok {
		return nil, clierr.Parse(fmt.Sprint(raw), "class path must be a string, got %T", raw)
	}
	comp, err := p.reg.Lookup(path)
	if err != nil {
		return nil, err
	}
	return comp.ClassPath, nil
}

// finalize turns merged flags into a typed tree: polymorphic values become full descriptors with
// their init args checked against the chosen class and defaults filled in.
func (p *Parser) finalize(resolved *config.ResolvedInvocation) (config.Tree, error) {
	tree := config.Unflatten(resolved.Flags)
	for _, e := range p.entries {
		if p.links.IsDestination(e.Key) {
			continue
		}
		value, present := config.Get(tree, e.Key)
		switch {
		case e.Polymorphic:
			v, err := p.resolvePolymorphic(e, value)
			if err != nil {
				return nil, err
			}
			config.Set(tree, e.Key, v)
		case e.Param.Type == schema.TypeClassList:
			if value == nil {
				if e.Param.Required {
					return nil, clierr.Parse(e.Key, "missing required value")
				}
				config.Set(tree, e.Key, nil)
				continue
			}
			v, err := p.resolveParam(e.Param, value, e.Key)
			if err != nil {
				return nil, err
			}
			config.Set(tree, e.Key, v)
		default:
			if (!present || value == nil) && e.Param.Required {
				return nil, clierr.Parse(e.Key, "missing required value")
			}
		}
	}
	return tree, nil
}

func (p *Parser) resolvePolymorphic(e schema.Entry, value any) (any, error) {
	m, _ := value.(map[string]any)
	classPath, _ := m[schema.ClassPathKey].(string)
	init, _ := m[schema.InitArgsKey].(map[string]any)
	if classPath == "" {
		if len(init) > 0 {
			return nil, clierr.Parse(e.Key+initArgsSuffix, "init args given without a class path")
		}
		if e.Param.Required {
			return nil, clierr.Parse(e.Key, "missing required class path")
		}
		return nil, nil
	}
	comp, _, err := schema.InitArgEntries(p.reg, e, classPath)
	if err != nil {
		return nil, err
	}
	typed, err := p.resolveInit(comp, init, e.Key+initArgsSuffix)
	if err != nil {
		return nil, err
	}
	return schema.WithClassPath(comp.ClassPath, typed).Map(), nil
}

func (p *Parser) resolveInit(comp *schema.Component, init map[string]any, prefix string) (map[string]any, error) {
	for name := range init {
		if _, ok := comp.Param(name); !ok || comp.IsPositional(name) {
			return nil, clierr.Parse(schema.Join(prefix, name), "%s does not accept this argument", comp.ClassPath)
		}
	}
	out := make(map[string]any, len(comp.Params))
	for _, param := range comp.Params {
		if comp.IsPositional(param.Name) {
			continue
		}
		key := schema.Join(prefix, param.Name)
		raw, given := init[param.Name]
		if !given {
			switch {
			case p.links.IsDestination(key):
			case param.Required:
				return nil, clierr.Parse(key, "missing required value")
			case param.Type == schema.TypeClass && param.Class != "" && param.Default == nil:
				nested, err := p.resolveParam(param, map[string]any{}, key)
				if err != nil {
					return nil, err
				}
				out[param.Name] = nested
				continue
			}
			out[param.Name] = config.DeepCopy(param.Default)
			continue
		}
		v, err := p.resolveParam(param, raw, key)
		if err != nil {
			return nil, err
		}
		out[param.Name] = v
	}
	return out, nil
}

func (p *Parser) resolveParam(param schema.Param, raw any, key string) (any, error) {
	if schema.IsNull(raw) && param.Default == nil {
		return nil, nil
	}
	if param.Type == schema.TypeClass && param.Class != "" {
		m, err := schema.Coerce(schema.Param{Type: schema.TypeMap, Nullable: param.Nullable}, raw)
		if err != nil {
			return nil, clierr.Parse(key, "%v", err)
		}
		if m == nil {
			return nil, nil
		}
		comp, err := p.reg.Lookup(param.Class)
		if err != nil {
			return nil, err
		}
		return p.resolveInit(comp, m.(map[string]any), key)
	}

	v, err := schema.Coerce(param, raw)
	if err != nil {
		return nil, clierr.Parse(key, "%v", err)
	}
	if v == nil {
		return nil, nil
	}
	bases := splitBases(param.Base)
	switch param.Type {
	case schema.TypeClass:
		return p.resolveDescriptor(v, bases, key)
	case schema.TypeClassList:
		items := v.([]any)
		out := make([]any, len(items))
		for i, item := range items {
			d, err := p.resolveDescriptor(item, bases, fmt.Sprintf("%s[%d]", key, i))
			if err != nil {
				return nil, err
			}
			out[i] = d
		}
		return out, nil
	default:
		return v, nil
	}
}

func (p *Parser) resolveDescriptor(value any, bases []string, key string) (any, error) {
	d, err := schema.DescriptorFrom(value)
	if err != nil {
		return nil, clierr.Parse(key, "%v", err)
	}
	comp, err := p.reg.Lookup(d.ClassPath)
	if err != nil {
		return nil, err
	}
	if len(bases) > 0 {
		ok := false
		for _, b := range bases {
			ok = ok || p.reg.IsSubclass(comp.ClassPath, b)
		}
		if !ok {
			return nil, clierr.Parse(key, "%s is not a subclass of %s", comp.ClassPath, strings.Join(bases, " or "))
		}
	}
	init, err := p.resolveInit(comp, d.InitArgs, key+initArgsSuffix)
	if err != nil {
		return nil, err
	}
	return schema.WithClassPath(comp.ClassPath, init).Map(), nil
}

// Dump returns a copy of tree without link destinations, which are recomputed on every parse.
func (p *Parser) Dump(tree config.Tree) config.Tree {
	out := config.CopyTree(tree)
	for _, e := range p.links.Edges() {
		config.Delete(out, e.Dest)
	}
	return out
}

// PrintConfig writes the resolved configuration as yaml or json, or a summary of every key and the
// layer that supplied it as text (summary) or json (summary_json).
func (p *Parser) PrintConfig(w io.Writer, tree config.Tree, resolved *config.ResolvedInvocation, format string) error {
	var (
		out []byte
		err error
	)
	switch strings.ToLower(format) {
	case "yaml", "":
		out, err = persist.Encode(p.Dump(tree), persist.FormatYAML)
	case "json":
		out, err = persist.Encode(p.Dump(tree), persist.FormatJSON)
	case "summary", "summary_json":
		summaryFormat := config.SummaryFormatText
		if strings.HasSuffix(strings.ToLower(format), "_json") {
			summaryFormat = config.SummaryFormatJSON
		}
		var s string
		s, err = config.FormatSummary(resolved, summaryFormat)
		out = []byte(s)
	default:
		return clierr.Parse(PrintConfigFlag, "unsupported format %q", format)
	}
	if err != nil {
		return fmt.Errorf("print config: %w", err)
	}
	_, err = w.Write(out)
	return err
}

func lookupIn(environ []string) internalconfig.LookupFunc {
	return func(name string) (string, bool) {
		for i := len(environ) - 1; i >= 0; i-- {
			if k, v, ok := strings.Cut(environ[i], "="); ok && k == name {
				return v, true
			}
		}
		return "", false
	}
}

func splitBases(base string) []string {
	var out []string
	for _, b := range strings.Split(base, ",") {
		if b = strings.TrimSpace(b); b != "" {
			out = append(out, b)
		}
	}
	return out
}
