package plugin

import (
	"crypto/tls"
	"fmt"
	"log"
	"net/smtp"
	"sort"
	"strings"
)

// SendFunc 邮件发送函数，便于替换为测试桩
type SendFunc func(subject, body string) error

// EmailPlugin 邮件告警插件（对外导出）
type EmailPlugin struct {
	name     string
	smtpHost string
	smtpPort int
	username string
	password string
	from     string
	to       []string
	enabled  bool
	send     SendFunc
}

// NewEmailPlugin 创建邮件告警插件
func NewEmailPlugin() *EmailPlugin {
	p := &EmailPlugin{name: "email"}
	p.send = p.sendEmail
	return p
}

// WithSender 替换发送实现
func (e *EmailPlugin) WithSender(fn SendFunc) *EmailPlugin {
	if fn != nil {
		e.send = fn
	}
	return e
}

// Name 插件名称
func (e *EmailPlugin) Name() string {
	return e.name
}

// Init 读取SMTP参数：smtp_host、smtp_port（默认25）、username、password、from、to（逗号分隔）
func (e *EmailPlugin) Init(params map[string]string) error {
	e.smtpHost = params["smtp_host"]
	if e.smtpHost == "" {
		return fmt.Errorf("smtp_host参数不能为空")
	}

	e.smtpPort = 25
	if portStr := params["smtp_port"]; portStr != "" {
		if _, err := fmt.Sscanf(portStr, "%d", &e.smtpPort); err != nil {
			return fmt.Errorf("smtp_port参数格式错误: %w", err)
		}
	}

	e.username = params["username"]
	e.password = params["password"]

	e.from = params["from"]
	if e.from == "" {
		return fmt.Errorf("from参数不能为空")
	}

	toStr := params["to"]
	if toStr == "" {
		return fmt.Errorf("to参数不能为空")
	}
	e.to = nil
	for _, addr := range strings.Split(toStr, ",") {
		if addr = strings.TrimSpace(addr); addr != "" {
			e.to = append(e.to, addr)
		}
	}

	e.enabled = true
	log.Printf("✅ [EmailPlugin] 初始化完成: SMTP=%s:%d, From=%s, To=%v", e.smtpHost, e.smtpPort, e.from, e.to)
	return nil
}

// Execute 发送告警邮件
func (e *EmailPlugin) Execute(data interface{}) error {
	if !e.enabled {
		return fmt.Errorf("邮件插件未初始化")
	}
	d, ok := data.(PluginData)
	if !ok {
		return fmt.Errorf("插件数据类型错误")
	}

	subject := buildSubject(d)
	if err := e.send(subject, buildBody(d)); err != nil {
		log.Printf("❌ [EmailPlugin] 发送邮件失败: %v", err)
		return err
	}
	log.Printf("✅ [EmailPlugin] 邮件发送成功: Event=%s, Subject=%s", d.Event, subject)
	return nil
}

func buildSubject(d PluginData) string {
	switch d.Event {
	case EventWorkflowStarted:
		return fmt.Sprintf("[工作流启动] %s@%s - %s", d.WorkflowID, d.Version, d.InstanceID)
	case EventWorkflowCompleted:
		return fmt.Sprintf("[工作流完成] %s@%s - %s", d.WorkflowID, d.Version, d.InstanceID)
	case EventWorkflowFailed:
		return fmt.Sprintf("[工作流失败] %s@%s - %s", d.WorkflowID, d.Version, d.InstanceID)
	case EventWorkflowCancelled:
		return fmt.Sprintf("[工作流取消] %s@%s - %s", d.WorkflowID, d.Version, d.InstanceID)
	case EventWorkflowReady:
		return fmt.Sprintf("[工作流就绪] %s@%s - %s", d.WorkflowID, d.Version, d.InstanceID)
	case EventSecurityAlert:
		return fmt.Sprintf("[安全告警][%s] %s", d.Severity, d.Status)
	default:
		return fmt.Sprintf("[系统通知] %s", d.Event)
	}
}

func buildBody(d PluginData) string {
	var body strings.Builder
	fmt.Fprintf(&body, "事件类型: %s\n", d.Event)
	fmt.Fprintf(&body, "状态: %s\n", d.Status)
	if d.WorkflowID != "" {
		fmt.Fprintf(&body, "Workflow: %s@%s\n", d.WorkflowID, d.Version)
	}
	if d.InstanceID != "" {
		fmt.Fprintf(&body, "Instance ID: %s\n", d.InstanceID)
	}
	if d.Error != "" {
		fmt.Fprintf(&body, "错误信息: %s\n", d.Error)
	}
	if len(d.Data) > 0 {
		keys := make([]string, 0, len(d.Data))
		for k := range d.Data {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		body.WriteString("\n详细信息:\n")
		for _, k := range keys {
			fmt.Fprintf(&body, "  %s: %v\n", k, d.Data[k])
		}
	}
	return body.String()
}

func (e *EmailPlugin) sendEmail(subject, body string) error {
	message := e.buildMessage(subject, body)
	addr := fmt.Sprintf("%s:%d", e.smtpHost, e.smtpPort)

	if e.username != "" && e.password != "" {
		auth := smtp.PlainAuth("", e.username, e.password, e.smtpHost)
		if e.smtpPort == 465 {
			return e.sendEmailTLS(addr, auth, message)
		}
		return smtp.SendMail(addr, auth, e.from, e.to, []byte(message))
	}
	return smtp.SendMail(addr, nil, e.from, e.to, []byte(message))
}

// sendEmailTLS 465端口先建立TLS连接
func (e *EmailPlugin) sendEmailTLS(addr string, auth smtp.Auth, message string) error {
	conn, err := tls.Dial("tcp", addr, &tls.Config{ServerName: e.smtpHost})
	if err != nil {
		return fmt.Errorf("TLS连接失败: %w", err)
	}
	defer conn.Close()

	client, err := smtp.NewClient(conn, e.smtpHost)
	if err != nil {
		return fmt.Errorf("创建SMTP客户端失败: %w", err)
	}
	defer client.Close()

	if err := client.Auth(auth); err != nil {
		return fmt.Errorf("SMTP认证失败: %w", err)
	}
	if err := client.Mail(e.from); err != nil {
		return fmt.Errorf("设置发件人失败: %w", err)
	}
	for _, to := range e.to {
		if err := client.Rcpt(to); err != nil {
			return fmt.Errorf("设置收件人失败: %w", err)
		}
	}

	writer, err := client.Data()
	if err != nil {
		return fmt.Errorf("获取数据写入器失败: %w", err)
	}
	if _, err := writer.Write([]byte(message)); err != nil {
		return fmt.Errorf("写入邮件内容失败: %w", err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("关闭数据写入器失败: %w", err)
	}
	return client.Quit()
}

func (e *EmailPlugin) buildMessage(subject, body string) string {
	var message strings.Builder
	fmt.Fprintf(&message, "From: %s\r\n", e.from)
	fmt.Fprintf(&message, "To: %s\r\n", strings.Join(e.to, ", "))
	fmt.Fprintf(&message, "Subject: %s\r\n", subject)
	message.WriteString("Content-Type: text/plain; charset=UTF-8\r\n")
	message.WriteString("\r\n")
	message.WriteString(body)
	return message.String()
}
