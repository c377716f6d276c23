package parser

import (
	"strconv"
	"strings"

	"github.com/dobrovols/trainctl/pkg/schema"
)

type keyKind int

const (
	keyValue keyKind = iota
	keyClass
	keyClassPath
	keyClassList
	keyInitArgs
	keyInitArg
)

type keyInfo struct {
	kind  keyKind
	entry schema.Entry
	// base is the polymorphic key owning a class_path or init_args key.
	base string
}

const (
	classPathSuffix = "." + schema.ClassPathKey
	initArgsSuffix  = "." + schema.InitArgsKey
)

// classify maps a dotted key onto the static schema.
func (p *Parser) classify(key string) (keyInfo, bool) {
	if idx, ok := p.index[key]; ok {
		e := p.entries[idx]
		switch {
		case e.Polymorphic:
			return keyInfo{kind: keyClass, entry: e, base: key}, true
		case e.Param.Type == schema.TypeClassList:
			return keyInfo{kind: keyClassList, entry: e}, true
		default:
			return keyInfo{kind: keyValue, entry: e}, true
		}
	}
	if base, ok := strings.CutSuffix(key, classPathSuffix); ok {
		if e, poly := p.polymorphic(base); poly {
			return keyInfo{kind: keyClassPath, entry: e, base: base}, true
		}
	}
	if base, ok := strings.CutSuffix(key, initArgsSuffix); ok {
		if e, poly := p.polymorphic(base); poly {
			return keyInfo{kind: keyInitArgs, entry: e, base: base}, true
		}
	}
	for offset := 0; ; {
		idx := strings.Index(key[offset:], initArgsSuffix+".")
		if idx < 0 {
			break
		}
		base := key[:offset+idx]
		if e, poly := p.polymorphic(base); poly {
			return keyInfo{kind: keyInitArg, entry: e, base: base}, true
		}
		offset += idx + 1
	}
	return keyInfo{}, false
}

func (p *Parser) polymorphic(key string) (schema.Entry, bool) {
	idx, ok := p.index[key]
	if !ok || !p.entries[idx].Polymorphic {
		return schema.Entry{}, false
	}
	return p.entries[idx], true
}

// initArgFlagNames picks the --<key>.init_args.<name> flags out of args so they can be declared before
// flag parsing; their types are only known once the class path is resolved.
func initArgFlagNames(args []string) []string {
	var names []string
	for _, arg := range args {
		if arg == "--" {
			break
		}
		if !strings.HasPrefix(arg, "--") {
			continue
		}
		name, _, _ := strings.Cut(strings.TrimPrefix(arg, "--"), "=")
		if strings.Contains(name, initArgsSuffix+".") {
			names = append(names, name)
		}
	}
	return names
}

// joinBoolValues rewrites "--flag true" into "--flag=true" for boolean flags. A bare boolean flag
// means true, so a separate value would otherwise be read as a positional argument.
func (p *Parser) joinBoolValues(args []string) []string {
	out := make([]string, 0, len(args))
	for i := 0; i < len(args); i++ {
		arg := args[i]
		if arg == "--" {
			return append(out, args[i:]...)
		}
		if strings.HasPrefix(arg, "--") && !strings.Contains(arg, "=") && i+1 < len(args) && p.isBoolFlag(arg[2:]) {
			if _, err := strconv.ParseBool(args[i+1]); err == nil {
				out = append(out, arg+"="+args[i+1])
				i++
				continue
			}
		}
		out = append(out, arg)
	}
	return out
}

func (p *Parser) isBoolFlag(name string) bool {
	if i, ok := p.index[name]; ok {
		e := p.entries[i]
		if !e.Polymorphic && e.Param.Type == schema.TypeBool {
			return true
		}
	}
	for _, sub := range p.subcommands {
		if sub.parser.isBoolFlag(name) {
			return true
		}
	}
	return false
}

// splitRootConfigs takes the --config values given before the subcommand name. They belong to the
// root command and hold a configuration keyed by subcommand.
func (p *Parser) splitRootConfigs(args []string) (rest, configs []string) {
	if len(p.subcommands) == 0 {
		return args, nil
	}
	flag := "--" + ConfigFlag
	for i := 0; i < len(args); i++ {
		arg := args[i]
		switch {
		case arg == flag && i+1 < len(args):
			configs = append(configs, args[i+1])
			i++
		case strings.HasPrefix(arg, flag+"="):
			configs = append(configs, strings.TrimPrefix(arg, flag+"="))
		case strings.HasPrefix(arg, "-"):
			rest = append(rest, arg)
		default:
			return append(rest, args[i:]...), configs
		}
	}
	return rest, configs
}
