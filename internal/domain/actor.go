package domain

import "strings"

// Actor идентифицирует инициатора изменения: сотрудника, канал или фоновый процесс.
type Actor string

// ActorSystem используется фоновыми процессами без конкретного инициатора.
const ActorSystem Actor = "system"

// ChannelActor возвращает актора для изменений, пришедших из канала.
func ChannelActor(channel string) Actor {
	return Actor("channel:" + strings.TrimSpace(channel))
}

func (a Actor) String() string {
	return string(a)
}

// Empty сообщает, что актор не задан.
func (a Actor) Empty() bool {
	return strings.TrimSpace(string(a)) == ""
}
