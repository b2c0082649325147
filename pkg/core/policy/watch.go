package policy

import (
	"fmt"
	"path/filepath"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/fsnotify/fsnotify"
)

// startWatcher 监听配置目录，描述文件被外部修改时原地重新加载
func (m *Manager) startWatcher() error {
	m.watchMu.Lock()
	defer m.watchMu.Unlock()
	if m.watcher != nil {
		return nil
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("创建文件监听失败: %w", err)
	}
	if err := w.Add(m.cfg.Dir); err != nil {
		w.Close()
		return fmt.Errorf("监听配置目录失败: %w", err)
	}
	m.watcher = w
	m.stopCh = make(chan struct{})

	m.wg.Add(1)
	go m.watchLoop(w, m.stopCh)
	m.logger.Info("配置热加载已启用", watermill.LogFields{"dir": m.cfg.Dir})
	return nil
}

func (m *Manager) watchLoop(w *fsnotify.Watcher, stopCh chan struct{}) {
	defer m.wg.Done()
	for {
		select {
		case <-stopCh:
			return
		case ev, ok := <-w.Events:
			if !ok {
				return
			}
			if !isDescriptorFile(filepath.Base(ev.Name)) {
				continue
			}
			if ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create) {
				m.ReloadFile(ev.Name)
			}
		case err, ok := <-w.Errors:
			if !ok {
				return
			}
			m.logger.Error("配置文件监听出错", err, nil)
		}
	}
}

// ReloadFile 重新加载单个描述文件
// 失败时只记录警告，内存中的旧配置继续生效；内容没有变化时不产生事件
func (m *Manager) ReloadFile(path string) bool {
	m.fileMu.Lock()
	cfg, err := readDescriptor(path)
	if err != nil {
		m.fileMu.Unlock()
		m.logger.Error("热加载配置失败，保留原配置", err, watermill.LogFields{"file": path})
		return false
	}

	key := cfg.Key()
	m.mu.Lock()
	prev, existed := m.configs[key]
	if owner, ok := m.files[key]; ok && owner != path {
		m.mu.Unlock()
		m.fileMu.Unlock()
		m.logger.Info("忽略重复的工作流配置文件", watermill.LogFields{"key": key, "file": path, "owner": owner})
		return false
	}
	diff := computeDiff(prev, cfg)
	if existed && diff.IsEmpty() {
		m.mu.Unlock()
		m.fileMu.Unlock()
		return false
	}
	m.configs[key] = cfg
	m.files[key] = path
	m.mu.Unlock()
	m.fileMu.Unlock()

	ev := ChangeEvent{Type: ChangeReloaded, Key: key, Diff: diff, Current: cfg.Clone()}
	if existed {
		ev.Previous = prev.Clone()
	} else {
		ev.Type = ChangeAdded
	}
	m.emit(ev)
	m.logger.Info("工作流配置已热加载", watermill.LogFields{"key": key, "file": path})
	return true
}
