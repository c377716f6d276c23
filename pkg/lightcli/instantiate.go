package lightcli

import (
	"context"
	"fmt"
	"strings"

	"github.com/dobrovols/trainctl/pkg/clierr"
	"github.com/dobrovols/trainctl/pkg/config"
	"github.com/dobrovols/trainctl/pkg/instantiate"
	"github.com/dobrovols/trainctl/pkg/links"
	"github.com/dobrovols/trainctl/pkg/parser"
	"github.com/dobrovols/trainctl/pkg/schema"
	"github.com/dobrovols/trainctl/pkg/telemetry"
	"github.com/dobrovols/trainctl/pkg/training"
)

// instantiateClasses builds the data module, the model, the remaining class groups and finally the
// trainer. Optimizer and scheduler groups are never built here.
func (c *CLI) instantiateClasses(ctx context.Context) error {
	p := c.Result.Parser
	tree := c.Config()

	order := []string{DataKey, ModelKey}
	for _, g := range p.Groups() {
		if g.Key != DataKey && g.Key != ModelKey {
			order = append(order, g.Key)
		}
	}
	for _, key := range order {
		g, ok := p.Group(key)
		if !ok || key == TrainerKey || g.Role == schema.RoleOptimizer || g.Role == schema.RoleLRScheduler {
			continue
		}
		value, _ := config.Get(tree, key)
		obj, err := instantiate.Group(ctx, c.opts.Registry, g.ClassPath(), value)
		if err != nil {
			return err
		}
		if obj != nil {
			c.Instances[key] = obj
		}
	}

	if obj, ok := c.Instances[DataKey]; ok {
		dm, ok := obj.(training.DataModule)
		if !ok {
			return clierr.Configuration(DataKey, "%T is not a data module", obj)
		}
		c.DataModule = dm
	}
	model, ok := c.Instances[ModelKey].(training.Model)
	if !ok {
		return clierr.Configuration(ModelKey, "%T is not a model", c.Instances[ModelKey])
	}
	c.Model = model

	if err := c.addConfigureOptimizers(p, tree); err != nil {
		return err
	}

	var callbacks []training.Callback
	for _, key := range p.CallbackKeys() {
		obj, ok := c.Instances[key]
		if !ok {
			continue
		}
		cb, ok := obj.(training.Callback)
		if !ok {
			return clierr.Configuration(key, "%T is not a callback", obj)
		}
		callbacks = append(callbacks, cb)
	}

	trainerConfig, _ := config.Get(tree, TrainerKey)
	init, _ := config.DeepCopy(trainerConfig).(map[string]any)
	var (
		trainer training.Trainer
		err     error
	)
	if c.opts.TrainerFactory != nil {
		trainer, err = c.opts.TrainerFactory(ctx, c, init, callbacks)
	} else {
		trainer, err = c.InstantiateTrainer(ctx, init, callbacks)
	}
	if err != nil {
		return err
	}
	c.Trainer = trainer
	return nil
}

// InstantiateTrainer builds the trainer class from init. Its callbacks are, in order: the
// configured ones, extra, the trainer default callbacks and the save-config callback unless config
// saving is disabled or fast_dev_run is set.
func (c *CLI) InstantiateTrainer(ctx context.Context, init map[string]any, extra []training.Callback) (training.Trainer, error) {
	comp, err := c.opts.Registry.Lookup(c.opts.TrainerClass)
	if err != nil {
		return nil, err
	}
	fastDevRun := truthy(init["fast_dev_run"])
	built, err := instantiate.Init(ctx, c.opts.Registry, comp, init)
	if err != nil {
		return nil, err
	}

	var callbacks []any
	if configured, ok := built["callbacks"].([]any); ok {
		callbacks = append(callbacks, configured...)
	}
	for _, cb := range extra {
		callbacks = append(callbacks, cb)
	}
	switch defaults := c.opts.TrainerDefaults["callbacks"].(type) {
	case nil:
	case training.Callback:
		callbacks = append(callbacks, defaults)
	case []training.Callback:
		for _, cb := range defaults {
			callbacks = append(callbacks, cb)
		}
	default:
		return nil, clierr.Configuration("trainer.callbacks", "trainer default callbacks must be callbacks, got %T", defaults)
	}
	if !c.opts.DisableSaveConfig && !fastDevRun {
		callbacks = append(callbacks, NewSaveConfigCallback(c.Result.Parser, c.Config(), c.opts.SaveConfigFilename, c.opts.SaveConfigOverwrite, c.logger))
	}

	if _, ok := comp.Param("callbacks"); ok {
		built["callbacks"] = callbacks
	} else if len(callbacks) > 0 {
		return nil, clierr.Configuration(comp.ClassPath, "trainer class takes no callbacks")
	}
	obj, err := instantiate.Construct(ctx, comp, nil, built)
	if err != nil {
		return nil, err
	}
	trainer, ok := obj.(training.Trainer)
	if !ok {
		return nil, clierr.Configuration(TrainerKey, "%T is not a trainer", obj)
	}
	return trainer, nil
}

func truthy(v any) bool {
	switch t := v.(type) {
	case bool:
		return t
	case int:
		return t != 0
	case float64:
		return t != 0
	case string:
		return t != "" && t != "false" && t != "0"
	default:
		return v != nil
	}
}

// addConfigureOptimizers installs a configure-optimizers function on the model when exactly one
// optimizer group, and at most one scheduler group, are wired automatically.
func (c *CLI) addConfigureOptimizers(p *parser.Parser, tree config.Tree) error {
	var optimizers, schedulers []parser.OptimizerGroup
	for _, g := range p.OptimizerGroups() {
		if g.LinkTo != links.Automatic {
			continue
		}
		if g.Role == schema.RoleOptimizer {
			optimizers = append(optimizers, g)
		} else {
			schedulers = append(schedulers, g)
		}
	}
	if len(optimizers) == 0 {
		return nil
	}
	if len(optimizers) > 1 || len(schedulers) > 1 {
		keys := make([]string, 0, len(optimizers)+len(schedulers))
		for _, g := range append(optimizers, schedulers...) {
			keys = append(keys, g.Key)
		}
		return clierr.Configuration(strings.Join(keys, ", "),
			"at most one optimizer and one lr scheduler can be wired automatically; link the groups and configure optimizers on the model instead")
	}

	optimizer, ok, err := groupDescriptor(optimizers[0], tree)
	if err != nil || !ok {
		return err
	}
	var scheduler *schema.Descriptor
	if len(schedulers) == 1 {
		d, ok, err := groupDescriptor(schedulers[0], tree)
		if err != nil {
			return err
		}
		if ok {
			scheduler = &d
		}
	}

	model, ok := c.Model.(training.OptimizerConfigurable)
	if !ok {
		return clierr.Configuration(ModelKey, "%T cannot have its optimizers configured", c.Model)
	}
	if model.ConfigureOptimizers() != nil {
		_ = c.logger.Emit(telemetry.Entry{
			Category: telemetry.CategoryConfig,
			Severity: telemetry.SeverityWarn,
			Message:  "model configures its own optimizers; replacing them with the automatically wired ones",
			Metadata: map[string]string{"model": fmt.Sprintf("%T", c.Model), "optimizer": optimizer.ClassPath},
		})
	}
	model.SetConfigureOptimizers(configureOptimizers(c.opts.Registry, model, optimizer, scheduler))
	return nil
}

// groupDescriptor reads the class of an optimizer-like group. An unset polymorphic group yields ok=false.
func groupDescriptor(g parser.OptimizerGroup, tree config.Tree) (schema.Descriptor, bool, error) {
	value, _ := config.Get(tree, g.Key)
	if !g.Spec.Any {
		init, _ := value.(map[string]any)
		return schema.WithClassPath(g.Spec.Paths[0], init), true, nil
	}
	if value == nil {
		return schema.Descriptor{}, false, nil
	}
	d, err := schema.DescriptorFrom(value)
	if err != nil {
		return schema.Descriptor{}, false, clierr.Configuration(g.Key, "%v", err)
	}
	return d, true, nil
}

func configureOptimizers(reg *schema.Registry, model training.Model, optimizer schema.Descriptor, scheduler *schema.Descriptor) training.ConfigureOptimizersFunc {
	return func(ctx context.Context) (training.OptimizerSetup, error) {
		obj, err := instantiate.Class(ctx, reg, model.Parameters(), optimizer)
		if err != nil {
			return training.OptimizerSetup{}, err
		}
		opt, ok := obj.(training.Optimizer)
		if !ok {
			return training.OptimizerSetup{}, fmt.Errorf("%s is not an optimizer", optimizer.ClassPath)
		}
		if scheduler == nil {
			return training.OptimizerSetup{Optimizers: []training.Optimizer{opt}, Single: true}, nil
		}
		obj, err = instantiate.Class(ctx, reg, opt, *scheduler)
		if err != nil {
			return training.OptimizerSetup{}, err
		}
		sched, ok := obj.(training.LRScheduler)
		if !ok {
			return training.OptimizerSetup{}, fmt.Errorf("%s is not a learning rate scheduler", scheduler.ClassPath)
		}
		return training.OptimizerSetup{Optimizers: []training.Optimizer{opt}, Schedulers: []training.LRScheduler{sched}}, nil
	}
}
