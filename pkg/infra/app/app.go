// Package app 基于 Cobra、Viper 和 Pflag 的命令行应用框架。
//
// 配置按以下优先级合并（后者覆盖前者）：
//   - 配置文件（-c 指定，或在默认路径中查找 <name>.yaml）
//   - 环境变量（<NAME>_ 前缀，flag 名中的 "." 和 "-" 替换为 "_"）
//   - 命令行 flag
//
// 用法：
//
//	a := app.NewApp(
//	    app.WithName("myapp"),
//	    app.WithDescription("My application"),
//	    app.WithOptions(opts),
//	    app.WithCommands(&app.Command{Use: "serve", Run: serve}),
//	)
//	a.Run()
package app

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"regexp"
	"strings"
	"syscall"

	"github.com/kart-io/version"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// App 命令行应用。
type App struct {
	name        string
	shortDesc   string
	description string
	options     CliOptions
	commands    []*Command
	cmd         *cobra.Command
	viper       *viper.Viper
	silence     bool
	noVersion   bool
	noConfig    bool
}

// Command 子命令。配置在 Run 之前已经加载、补全并校验。
type Command struct {
	Use     string
	Short   string
	Long    string
	Example string
	Args    cobra.PositionalArgs
	// Flags 注册子命令自己的 flag。
	Flags func(fs *pflag.FlagSet)
	// Run 为空时该命令只用于分组。
	Run func(ctx context.Context, args []string) error
	// Commands 下级子命令。
	Commands []*Command
}

// Option 配置 App。
type Option func(*App)

// WithName 设置应用名称，同时决定配置文件名和环境变量前缀。
func WithName(name string) Option {
	return func(a *App) {
		a.name = name
	}
}

// WithShortDescription 设置简短描述。
func WithShortDescription(desc string) Option {
	return func(a *App) {
		a.shortDesc = desc
	}
}

// WithDescription 设置详细描述。
func WithDescription(desc string) Option {
	return func(a *App) {
		a.description = desc
	}
}

// WithOptions 设置配置。
func WithOptions(opts CliOptions) Option {
	return func(a *App) {
		a.options = opts
	}
}

// WithCommands 添加子命令。
func WithCommands(cmds ...*Command) Option {
	return func(a *App) {
		a.commands = append(a.commands, cmds...)
	}
}

// WithSilence 不打印错误。
func WithSilence() Option {
	return func(a *App) {
		a.silence = true
	}
}

// WithNoVersion 不添加 --version。
func WithNoVersion() Option {
	return func(a *App) {
		a.noVersion = true
	}
}

// WithNoConfig 不加载配置文件与环境变量。
func WithNoConfig() Option {
	return func(a *App) {
		a.noConfig = true
	}
}

// NewApp 创建应用。
func NewApp(opts ...Option) *App {
	a := &App{
		name:  filepath.Base(os.Args[0]),
		viper: viper.New(),
	}

	for _, opt := range opts {
		opt(a)
	}

	a.buildCommand()
	return a
}

func (a *App) buildCommand() {
	cmd := &cobra.Command{
		Use:               a.name,
		Short:             a.shortDesc,
		Long:              a.description,
		SilenceUsage:      true,
		PersistentPreRunE: a.prepare,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmd.Help()
		},
	}
	if a.silence {
		cmd.SilenceErrors = true
	}

	cmd.SetOut(os.Stdout)
	cmd.SetErr(os.Stderr)
	cmd.PersistentFlags().SortFlags = false

	a.addGlobalFlags(cmd)

	// 配置项对所有子命令可见
	if a.options != nil {
		fss := a.options.Flags()
		for _, name := range fss.Order {
			cmd.PersistentFlags().AddFlagSet(fss.FlagSets[name])
		}
	}

	for _, c := range a.commands {
		cmd.AddCommand(c.build())
	}
	a.cmd = cmd
}

func (c *Command) build() *cobra.Command {
	cmd := &cobra.Command{
		Use:     c.Use,
		Short:   c.Short,
		Long:    c.Long,
		Example: c.Example,
		Args:    c.Args,
	}
	if c.Flags != nil {
		c.Flags(cmd.Flags())
	}
	if c.Run != nil {
		run := c.Run
		cmd.RunE = func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), args)
		}
	}
	for _, sub := range c.Commands {
		cmd.AddCommand(sub.build())
	}
	return cmd
}

func (a *App) addGlobalFlags(cmd *cobra.Command) {
	if !a.noConfig {
		cmd.PersistentFlags().StringP("config", "c", "", "Path to config file")
	}
	if !a.noVersion {
		version.AddFlags(cmd.PersistentFlags())
	}
}

// prepare 在子命令执行前加载配置、补全并校验。
func (a *App) prepare(cmd *cobra.Command, _ []string) error {
	if !a.noVersion {
		version.PrintAndExitIfRequested()
	}
	if cmd == a.cmd || a.options == nil {
		return nil
	}

	if !a.noConfig {
		if err := a.loadConfig(cmd); err != nil {
			return err
		}
	}
	if err := a.options.Complete(); err != nil {
		return err
	}
	return a.options.Validate()
}

// loadConfig 读取配置文件与环境变量，命令行显式指定的 flag 最后生效。
func (a *App) loadConfig(cmd *cobra.Command) error {
	v := a.viper
	fs := cmd.Flags()

	configFile, _ := fs.GetString("config")
	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName(a.name)
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.AddConfigPath(filepath.Join(os.Getenv("HOME"), "."+a.name))
		v.AddConfigPath("/etc/" + a.name)
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return fmt.Errorf("failed to read config file: %w", err)
		}
	}

	expandEnvVars(v)

	// 记录命令行显式指定的 flag
	changed := make(map[string]string)
	fs.VisitAll(func(f *pflag.Flag) {
		if f.Changed {
			changed[f.Name] = f.Value.String()
		}
	})

	if err := v.Unmarshal(a.options); err != nil {
		return fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// 环境变量覆盖配置文件
	var envErr error
	prefix := a.EnvPrefix()
	replacer := strings.NewReplacer(".", "_", "-", "_")
	fs.VisitAll(func(f *pflag.Flag) {
		if _, ok := changed[f.Name]; ok || envErr != nil {
			return
		}
		key := prefix + "_" + strings.ToUpper(replacer.Replace(f.Name))
		if val, ok := os.LookupEnv(key); ok {
			if err := fs.Set(f.Name, val); err != nil {
				envErr = fmt.Errorf("invalid value for %s: %w", key, err)
			}
		}
	})
	if envErr != nil {
		return envErr
	}

	for name, val := range changed {
		if err := fs.Set(name, val); err != nil {
			return fmt.Errorf("failed to re-apply flag %s: %w", name, err)
		}
	}
	return nil
}

// EnvPrefix 返回环境变量前缀。
func (a *App) EnvPrefix() string {
	return strings.ToUpper(strings.ReplaceAll(a.name, "-", "_"))
}

var envPattern = regexp.MustCompile(`\$\{([^}]+)\}|\$([A-Za-z_][A-Za-z0-9_]*)`)

// expandEnvVars 展开配置值中的 ${VAR} 与 $VAR，变量不存在时保留原样。
func expandEnvVars(v *viper.Viper) {
	for _, key := range v.AllKeys() {
		strVal, ok := v.Get(key).(string)
		if !ok {
			continue
		}
		expanded := envPattern.ReplaceAllStringFunc(strVal, func(match string) string {
			name := strings.TrimPrefix(match, "$")
			name = strings.TrimSuffix(strings.TrimPrefix(name, "{"), "}")
			if envVal := os.Getenv(name); envVal != "" {
				return envVal
			}
			return match
		})
		if expanded != strVal {
			v.Set(key, expanded)
		}
	}
}

// Run 执行应用，收到 SIGINT 或 SIGTERM 时取消上下文，再次收到时直接退出。
func (a *App) Run() {
	ctx, stop := signalContext()
	defer stop()

	if err := a.cmd.ExecuteContext(ctx); err != nil {
		if !a.silence {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		os.Exit(1)
	}
}

// Command 返回根命令。
func (a *App) Command() *cobra.Command {
	return a.cmd
}

func signalContext() (context.Context, func()) {
	ctx, cancel := context.WithCancel(context.Background())
	c := make(chan os.Signal, 2)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	go func() {
		select {
		case <-c:
		case <-ctx.Done():
			return
		}
		cancel()
		<-c
		os.Exit(1)
	}()
	return ctx, func() {
		signal.Stop(c)
		cancel()
	}
}
