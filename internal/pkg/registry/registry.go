package registry

import (
	"fmt"
	"reflect"
	"sort"

	"course_market/internal/pkg/config"
	"course_market/internal/pkg/notify"
	"course_market/pkg/database"
	"course_market/pkg/metrics"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// ModuleContext 模块初始化所需的上下文
type ModuleContext struct {
	DB         *gorm.DB
	Redis      *redis.Client
	Router     *gin.Engine
	Config     *config.Config
	Logger     *zap.Logger
	Transactor database.Transactor
	Notifier   notify.Notifier
	Metrics    *metrics.MetricsCollector

	// 模块之间共享的服务，按类型登记
	services map[reflect.Type]any
}

// Module 模块接口
type Module interface {
	// Name 返回模块名称
	Name() string

	// Init 初始化模块（依赖注入、路由注册等）
	Init(ctx *ModuleContext) error

	// Priority 返回初始化优先级（数字越小越先初始化）
	// 被依赖的模块需要先初始化，例如 ledger 先于 order，order 先于 payment
	Priority() int
}

// moduleRegistry 全局模块注册表
var moduleRegistry = make(map[string]Module)

// Register 注册模块
func Register(module Module) {
	moduleRegistry[module.Name()] = module
}

// GetModules 获取所有已注册的模块
func GetModules() map[string]Module {
	return moduleRegistry
}

// Provide 登记一个供其他模块使用的服务，T 一般为接口类型
func Provide[T any](ctx *ModuleContext, svc T) {
	if ctx.services == nil {
		ctx.services = make(map[reflect.Type]any)
	}
	ctx.services[reflect.TypeOf((*T)(nil)).Elem()] = svc
}

// Lookup 获取已登记的服务
func Lookup[T any](ctx *ModuleContext) (T, error) {
	var zero T
	typ := reflect.TypeOf((*T)(nil)).Elem()
	svc, ok := ctx.services[typ]
	if !ok {
		return zero, fmt.Errorf("service %s not provided, check module priority", typ)
	}
	return svc.(T), nil
}

// InitModules 按优先级初始化所有模块
func InitModules(ctx *ModuleContext) error {
	modules := make([]Module, 0, len(moduleRegistry))
	for _, m := range moduleRegistry {
		modules = append(modules, m)
	}

	// 优先级相同按名称排序，保证初始化顺序稳定
	sort.Slice(modules, func(i, j int) bool {
		if modules[i].Priority() != modules[j].Priority() {
			return modules[i].Priority() < modules[j].Priority()
		}
		return modules[i].Name() < modules[j].Name()
	})

	// 按顺序初始化
	for _, module := range modules {
		if err := module.Init(ctx); err != nil {
			return fmt.Errorf("init module %s: %w", module.Name(), err)
		}
		if ctx.Logger != nil {
			ctx.Logger.Info("Module initialized", zap.String("module", module.Name()))
		}
	}

	return nil
}
