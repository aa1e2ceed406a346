package notify

import (
	"context"
	"fmt"

	"github.com/bwmarrin/discordgo"
)

type Discord struct {
	session *discordgo.Session
}

var _ Channel = (*Discord)(nil)

func NewDiscord(token string) (*Discord, error) {
	session, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("create discord session: %w", err)
	}
	return &Discord{session: session}, nil
}

func (d *Discord) Close() error {
	return d.session.Close()
}

func (d *Discord) Say(ctx context.Context, channelID, text string) (string, error) {
	if channelID == "" {
		return "", ErrNoChannel
	}
	msg, err := d.session.ChannelMessageSend(channelID, text, discordgo.WithContext(ctx))
	if err != nil {
		return "", fmt.Errorf("send message: %w", err)
	}
	return msg.ID, nil
}

func (d *Discord) SelectPrompt(ctx context.Context, channelID, text, customID string, options []SelectOption) (string, error) {
	if channelID == "" {
		return "", ErrNoChannel
	}
	menuOptions := make([]discordgo.SelectMenuOption, 0, len(options))
	for _, o := range options {
		menuOptions = append(menuOptions, discordgo.SelectMenuOption{
			Value: o.Value,
			Label: o.Label,
		})
	}
	msg, err := d.session.ChannelMessageSendComplex(channelID, &discordgo.MessageSend{
		Content: text,
		Components: []discordgo.MessageComponent{
			discordgo.ActionsRow{
				Components: []discordgo.MessageComponent{
					discordgo.SelectMenu{
						MenuType: discordgo.StringSelectMenu,
						CustomID: customID,
						Options:  menuOptions,
					},
				},
			},
		},
	}, discordgo.WithContext(ctx))
	if err != nil {
		return "", fmt.Errorf("send prompt: %w", err)
	}
	return msg.ID, nil
}
